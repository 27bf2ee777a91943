package room

import (
	"sort"
	"strings"

	"github.com/codetogether/roomsync/internal/protocol"
)

// TreeNode is one node of the nested view of a file map.
type TreeNode struct {
	Name     string
	Path     string
	Kind     protocol.NodeKind
	Expanded bool
	Size     int // content length in bytes, files only
	Children []*TreeNode
}

// BuildTree nests a flat path-keyed map into a tree.
//
// Paths are visited in sorted order, so the result depends only on the map's
// contents. Each node's Path is its ancestors' segments joined with "/".
// Ancestors missing from the map appear as folders. Kind and Expanded come
// from the map entry for the node's own path.
func BuildTree(files protocol.FileMap) []*TreeNode {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var roots []*TreeNode
	index := make(map[string]*TreeNode, len(keys))

	for _, key := range keys {
		segments := strings.Split(key, "/")
		siblings := &roots
		path := ""

		for i, seg := range segments {
			if path == "" {
				path = seg
			} else {
				path = path + "/" + seg
			}

			node, ok := index[path]
			if !ok {
				node = &TreeNode{Name: seg, Path: path, Kind: protocol.KindFolder}
				index[path] = node
				*siblings = append(*siblings, node)
			}
			if i == len(segments)-1 {
				e := files[key]
				node.Kind = e.Type
				node.Expanded = e.Type == protocol.KindFolder && e.IsExpanded
				if e.Type == protocol.KindFile {
					node.Size = len(e.Content)
				}
			}
			siblings = &node.Children
		}
	}
	return roots
}

// Walk visits nodes depth-first in tree order. depth is 0 for roots.
// Children of collapsed folders are visited only when all is true.
func Walk(nodes []*TreeNode, all bool, fn func(n *TreeNode, depth int)) {
	var walk func(ns []*TreeNode, depth int)
	walk = func(ns []*TreeNode, depth int) {
		for _, n := range ns {
			fn(n, depth)
			if n.Kind == protocol.KindFolder && (all || n.Expanded) {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(nodes, 0)
}
