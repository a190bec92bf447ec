package descriptor

// ApplyPlacementOverrides injects the chosen cluster affinity and import
// clusters into a service's values_overwrite document, mutating it in
// place. When implementer == "WOT" the keys go under a nested
// voChartOverwrite object; otherwise they are set at the top level. This
// dispatch must be preserved exactly as observed — see the design notes on
// flat vs. nested override injection.
func ApplyPlacementOverrides(values map[string]interface{}, implementer string, cluster string, importClusters []string) map[string]interface{} {
	if values == nil {
		values = map[string]interface{}{}
	}

	target := values
	if implementer == "WOT" {
		nested, ok := values["voChartOverwrite"].(map[string]interface{})
		if !ok {
			nested = map[string]interface{}{}
		}
		values["voChartOverwrite"] = nested
		target = nested
	}

	target["clustersAffinity"] = []string{cluster}
	target["serviceImportClusters"] = importClusters

	return values
}

// PlacementTarget returns the nested map that clustersAffinity/
// serviceImportClusters live under for the given implementer, without
// mutating values — used by CurrentClusterAffinity to read back the
// injected affinity.
func PlacementTarget(values map[string]interface{}, implementer string) map[string]interface{} {
	if implementer == "WOT" {
		if nested, ok := values["voChartOverwrite"].(map[string]interface{}); ok {
			return nested
		}
		return nil
	}
	return values
}

// CurrentClusterAffinity reads the first (and only) cluster affinity entry
// previously injected into values, or "" if none is present.
func CurrentClusterAffinity(values map[string]interface{}, implementer string) string {
	target := PlacementTarget(values, implementer)
	if target == nil {
		return ""
	}
	affinity, ok := target["clustersAffinity"].([]string)
	if !ok || len(affinity) == 0 {
		return ""
	}
	return affinity[0]
}
