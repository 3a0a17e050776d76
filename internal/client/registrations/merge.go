package registrations

// Merge reconciles the server view with the local records. Only pending
// local records survive; each replaces the server entry with the same id or
// the same LocalRef, and is appended otherwise. Pending always wins.
// Pending deletes are kept as tombstones so the caller can hide them.
func Merge(server, local []Registration) []Registration {
	out := make([]Registration, 0, len(server)+len(local))
	byID := make(map[int64]int, len(server))
	byRef := make(map[string]int, len(server))

	for _, r := range server {
		if i, dup := byID[r.ID]; dup {
			out[i] = r
			continue
		}
		byID[r.ID] = len(out)
		if r.LocalRef != "" {
			byRef[r.LocalRef] = len(out)
		}
		out = append(out, r)
	}

	for _, r := range local {
		if !r.OfflinePending {
			continue
		}
		i, ok := byID[r.ID]
		if !ok && r.LocalRef != "" {
			i, ok = byRef[r.LocalRef]
		}
		if ok {
			out[i] = r
			continue
		}
		byID[r.ID] = len(out)
		if r.LocalRef != "" {
			byRef[r.LocalRef] = len(out)
		}
		out = append(out, r)
	}
	return out
}

// freshen adjusts a server list that was fetched while before was the
// persisted state, given the current state. A confirmed record written
// locally since the fetch replaces or joins its server entry, and a record
// removed locally since the fetch is left out. With no local writes in
// between the server list is returned as is.
func freshen(server, before, current []Registration) []Registration {
	prev := make(map[int64]Registration, len(before))
	for _, r := range before {
		prev[r.ID] = r
	}
	present := make(map[int64]bool, len(current))
	for _, r := range current {
		present[r.ID] = true
	}

	out := make([]Registration, 0, len(server))
	at := make(map[int64]int, len(server))
	for _, r := range server {
		if _, had := prev[r.ID]; had && !present[r.ID] {
			continue
		}
		at[r.ID] = len(out)
		out = append(out, r)
	}

	for _, r := range current {
		if r.OfflinePending {
			continue
		}
		if p, ok := prev[r.ID]; ok && p == r {
			continue
		}
		if i, ok := at[r.ID]; ok {
			out[i] = r
			continue
		}
		at[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// visible drops pending deletes.
func visible(records []Registration) []Registration {
	out := make([]Registration, 0, len(records))
	for _, r := range records {
		if !r.Deleted() {
			out = append(out, r)
		}
	}
	return out
}
