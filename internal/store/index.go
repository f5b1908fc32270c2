package store

// Index maps a parent id and field name to the ordered ids of its children
type Index map[string]map[string][]string

func (ix Index) add(parentID, field, childID string) {
	fields, ok := ix[parentID]
	if !ok {
		fields = map[string][]string{}
		ix[parentID] = fields
	}
	for _, id := range fields[field] {
		if id == childID {
			return
		}
	}
	fields[field] = append(fields[field], childID)
}

func (ix Index) remove(parentID, field, childID string) {
	fields, ok := ix[parentID]
	if !ok {
		return
	}
	ids := fields[field]
	for i, id := range ids {
		if id == childID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(fields, field)
	} else {
		fields[field] = ids
	}
	if len(fields) == 0 {
		delete(ix, parentID)
	}
}

// children returns a copy so callers may mutate the index while iterating
func (ix Index) children(parentID, field string) []string {
	ids := ix[parentID][field]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (ix Index) dedupe() {
	for parentID, fields := range ix {
		for field, ids := range fields {
			seen := make(map[string]bool, len(ids))
			uniq := ids[:0]
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					uniq = append(uniq, id)
				}
			}
			if len(uniq) == 0 {
				delete(fields, field)
			} else {
				fields[field] = uniq
			}
		}
		if len(fields) == 0 {
			delete(ix, parentID)
		}
	}
}
