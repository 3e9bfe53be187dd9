package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/common/expfmt"

	"teambridge/pkg/utils"
)

// WriteTextfile gathers the recorder's registry and writes it in the
// Prometheus text exposition format, atomically, to path. Readers only ever
// see a complete snapshot.
func (r *Recorder) WriteTextfile(path string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", family.GetName(), err)
		}
	}

	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write metrics snapshot: %w", err)
	}
	return nil
}
