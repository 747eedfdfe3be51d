package config

// DeepMerge combines base and override into a new value using the merge
// rules: nested objects merge key-by-key recursively, arrays and
// scalars are replaced wholesale by the override, and an explicit JSON null
// in override deletes the corresponding key from the result.
//
// Both arguments and the result use the canonical JSON-decoded shape
// (map[string]any, []any, or a scalar/nil) so that layers read straight off
// json.Unmarshal can be merged without an intermediate struct.
func DeepMerge(base, override any) any {
	baseMap, baseIsMap := base.(map[string]any)
	overrideMap, overrideIsMap := override.(map[string]any)

	if baseIsMap && overrideIsMap {
		result := make(map[string]any, len(baseMap)+len(overrideMap))
		for k, v := range baseMap {
			result[k] = v
		}
		for k, v := range overrideMap {
			if v == nil {
				delete(result, k)
				continue
			}
			if existing, ok := result[k]; ok {
				result[k] = DeepMerge(existing, v)
			} else {
				result[k] = v
			}
		}
		return result
	}

	// Override is not a map (or base isn't): replace wholesale. A nil
	// override at the top of this call means "delete", which is only
	// meaningful to the caller iterating over overrideMap above; a bare
	// nil here just means "no override was given", so keep base.
	if override == nil {
		return base
	}
	return override
}

// MergeAll folds layers left to right: defaults, then project file, then
// (optionally) the named environment override.
func MergeAll(layers ...any) any {
	var result any
	for _, l := range layers {
		if l == nil {
			continue
		}
		if result == nil {
			result = l
			continue
		}
		result = DeepMerge(result, l)
	}
	return result
}
