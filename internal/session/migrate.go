package session

// migrate brings a loaded header+entry list up to CurrentVersion in memory
// (§4.E "Migrations"). Loaders MAY persist the migrated form opportunistically;
// this Store does not rewrite the file on load (append-only discipline is
// simpler to reason about than a rewrite-in-place), so migration happens
// transparently on every Open and the next real append just continues
// appending current-format entries after the old ones.
func migrate(header Entry, entries []Entry) []Entry {
	switch {
	case header.Version < 1, header.Version == 1:
		entries = migrateV1(entries)
		fallthrough
	case header.Version <= 2:
		entries = migrateV2(entries)
	}
	return entries
}

// migrateV1 assigns ids and a linear parent chain to a v1 file, which had
// neither: every entry was implicitly ordered and implicitly a single
// unbranched history.
func migrateV1(entries []Entry) []Entry {
	var prev *string
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = newEntryID()
		}
		if entries[i].ParentID == nil {
			entries[i].ParentID = prev
		}
		id := entries[i].ID
		prev = &id
	}
	return entries
}

// migrateV2 renames the v2 "hookMessage" entry type to "custom" (§4.E
// "v2 renamed hookMessage -> custom"). The raw field no longer exists in
// this package's Entry struct (it was never decoded into anything but
// TypeCustom's shape), so this is a no-op rename of the Type tag only —
// kept as an explicit step so a future v3->v4 migration has a template to
// follow.
func migrateV2(entries []Entry) []Entry {
	const legacyHookMessage EntryType = "hookMessage"
	for i := range entries {
		if entries[i].Type == legacyHookMessage {
			entries[i].Type = TypeCustom
		}
	}
	return entries
}
