package placement

// ServiceRef identifies a service by its id within a graph descriptor, the
// minimal shape convertPlacement needs from a full service descriptor.
type ServiceRef struct {
	ID string
}

// ConvertPlacement converts a placement matrix into a service→cluster
// mapping. placement[i] is service i's one-hot row; services[i].ID and
// clusters[k] name the row/column indices respectively.
func ConvertPlacement(placement [][]int, services []ServiceRef, clusters []string) map[string]string {
	result := make(map[string]string, len(services))
	for i, row := range placement {
		for k, v := range row {
			if v == 1 {
				result[services[i].ID] = clusters[k]
				break
			}
		}
	}
	return result
}

// SwapPlacement inverts a service→cluster mapping into a cluster→[]service
// mapping. It is the functional inverse of ConvertPlacement on valid inputs:
// SwapPlacement(ConvertPlacement(P, services, clusters)) groups service ids
// by the cluster column they came from.
func SwapPlacement(servicePlacement map[string]string) map[string][]string {
	clusterPlacement := make(map[string][]string)
	for service, cluster := range servicePlacement {
		clusterPlacement[cluster] = append(clusterPlacement[cluster], service)
	}
	return clusterPlacement
}
