// Package spec turns a validated job submission into a concrete, self-contained
// execution description: a spec file on disk plus the command line that
// consumes it. It also hosts the config merge applied to workflow submissions.
package spec

// Merge combines a base configuration document with caller overrides and
// returns a new document. Keys that hold mappings on both sides merge
// recursively; any other collision, including sequences, resolves to the
// override value. Neither input is mutated.
func Merge(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}

	for k, ov := range overrides {
		bv, exists := merged[k]
		if exists {
			bm, baseIsMap := bv.(map[string]any)
			om, overrideIsMap := ov.(map[string]any)
			if baseIsMap && overrideIsMap {
				merged[k] = Merge(bm, om)
				continue
			}
		}
		merged[k] = ov
	}

	return merged
}
