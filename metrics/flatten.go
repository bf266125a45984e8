package metrics

// key paths never extracted as scalars (maps and bulky diagnostic payloads
// that happen to carry numeric leaves)
var metricsBlacklist = map[string]bool{
	"top_down_map":            true,
	"collisions.is_collision": true,
}

// FlattenInfo recursively flattens an environment info record into
// dotted-path scalar entries, dropping blacklisted paths and non-numeric
// leaves.
func FlattenInfo(info map[string]any) map[string]float64 {
	out := make(map[string]float64)
	flattenInto(out, "", info)
	return out
}

func flattenInto(out map[string]float64, prefix string, info map[string]any) {
	for k, v := range info {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if metricsBlacklist[path] {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			flattenInto(out, path, val)
		case float64:
			out[path] = val
		case float32:
			out[path] = float64(val)
		case int:
			out[path] = float64(val)
		case int64:
			out[path] = float64(val)
		case bool:
			if val {
				out[path] = 1
			} else {
				out[path] = 0
			}
		}
	}
}

// ExtractScalarsFromInfos flattens a batch of info records, grouping the
// values per key in slot order.
func ExtractScalarsFromInfos(infos []map[string]any) map[string][]float64 {
	results := make(map[string][]float64)
	for i, info := range infos {
		for k, v := range FlattenInfo(info) {
			if _, ok := results[k]; !ok {
				results[k] = make([]float64, 0, len(infos)-i)
			}
			results[k] = append(results[k], v)
		}
	}
	return results
}
