package cluster_service

import "sort"

// SortNodes orders nodes by ID so listings are stable.
func SortNodes(nodes []SafeNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// PickNode returns the first healthy node, preferring id when it is alive.
func PickNode(cs ClusterService, id string) (SafeNode, error) {
	nodes, err := cs.GetHealthyNodes()
	if err != nil {
		return SafeNode{}, err
	}
	if len(nodes) == 0 {
		return SafeNode{}, ErrNoHealthyNodes
	}
	SortNodes(nodes)
	for _, n := range nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return nodes[0], nil
}
