package gitobj

import (
	"github.com/go-git/go-git/v5/plumbing"

	"gitserve/internal/logging"
)

// CollectObjectsForPack performs a BFS over the object graph starting at
// every want, stopping at (not enqueuing the children of) any OID present
// in haves. commit -> tree + parents; tree -> all entry OIDs; tag -> target;
// blob -> none. Unreadable objects are skipped with a logged warning and do
// not abort the walk.
func (r *Repository) CollectObjectsForPack(wants, haves []OID) ([]OID, error) {
	haveSet := make(map[OID]struct{}, len(haves))
	for _, h := range haves {
		haveSet[h] = struct{}{}
	}
	visited := make(map[OID]struct{})
	var order []OID

	queue := append([]OID{}, wants...)
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]

		if _, ok := haveSet[oid]; ok {
			continue
		}
		if _, ok := visited[oid]; ok {
			continue
		}
		visited[oid] = struct{}{}

		obj, err := r.ReadObject(oid)
		if err != nil {
			logging.L().Warn().Str("oid", oid.String()).Err(err).Msg("collectObjectsForPack: unreadable object, skipping")
			continue
		}
		order = append(order, oid)

		switch obj.Type {
		case plumbing.CommitObject:
			c, err := r.CommitObject(oid)
			if err != nil {
				logging.L().Warn().Str("oid", oid.String()).Err(err).Msg("collectObjectsForPack: malformed commit, skipping children")
				continue
			}
			queue = append(queue, c.TreeHash)
			queue = append(queue, c.ParentHashes...)
		case plumbing.TreeObject:
			t, err := r.TreeObject(oid)
			if err != nil {
				logging.L().Warn().Str("oid", oid.String()).Err(err).Msg("collectObjectsForPack: malformed tree, skipping children")
				continue
			}
			for _, e := range t.Entries {
				queue = append(queue, e.Hash)
			}
		case plumbing.TagObject:
			tag, err := r.TagObject(oid)
			if err == nil {
				queue = append(queue, tag.Target)
			}
		}
	}
	return order, nil
}

// FindCommonCommits returns the subset of haves for which ReadObject
// succeeds.
func (r *Repository) FindCommonCommits(haves []OID) []OID {
	var out []OID
	for _, h := range haves {
		if _, err := r.ReadObject(h); err == nil {
			out = append(out, h)
		}
	}
	return out
}

// IsDescendant reports whether ancestor is reachable by following parent
// links from candidate. isDescendant(x, x) is true.
func (r *Repository) IsDescendant(candidate, ancestor OID) bool {
	if candidate == ancestor {
		return true
	}
	visited := make(map[OID]struct{})
	queue := []OID{candidate}
	const walkLimit = 100000 // bounded BFS, generalized from omegaup-githttp's capped first-parent walk
	steps := 0
	for len(queue) > 0 && steps < walkLimit {
		steps++
		oid := queue[0]
		queue = queue[1:]
		if _, ok := visited[oid]; ok {
			continue
		}
		visited[oid] = struct{}{}
		if oid == ancestor {
			return true
		}
		c, err := r.CommitObject(oid)
		if err != nil {
			continue
		}
		queue = append(queue, c.ParentHashes...)
	}
	return false
}
