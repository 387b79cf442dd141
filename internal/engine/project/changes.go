package project

import "sort"

// ChangeSet is what a polling consumer (e.g. an editor-protocol layer)
// receives. Either Files carries the full current list (unknown or first
// version), or IsDelta is set and Added/Removed/Updated describe the
// difference against the previously reported set.
type ChangeSet struct {
	Version int
	IsDelta bool

	Files []string

	Added   []string
	Removed []string
	Updated []string
}

// NoChanges reports whether a delta carries nothing.
func (cs ChangeSet) NoChanges() bool {
	return cs.IsDelta && len(cs.Added) == 0 && len(cs.Removed) == 0 && len(cs.Updated) == 0
}

// GetChangesSinceVersion returns a delta against the last reported snapshot
// when lastVersion matches it, and the full current file list otherwise.
// Calling twice with no intervening change yields the same version and an
// empty delta both times.
func (p *Project) GetChangesSinceVersion(lastVersion int) ChangeSet {
	current := p.currentFileSet()

	if p.hasReported && lastVersion == p.lastReportedVersion {
		added, removed := diffFileSets(p.lastReportedFiles, current)
		updated := make([]string, 0, len(p.updatedSinceReport))
		addedSet := make(map[string]bool, len(added))
		for _, f := range added {
			addedSet[f] = true
		}
		for f := range p.updatedSinceReport {
			if current[f] && !addedSet[f] {
				updated = append(updated, f)
			}
		}
		sort.Strings(updated)

		cs := ChangeSet{
			Version: p.stateVersion,
			IsDelta: true,
			Added:   added,
			Removed: removed,
			Updated: updated,
		}
		p.snapshotReported(current)
		return cs
	}

	files := make([]string, 0, len(current))
	for f := range current {
		files = append(files, f)
	}
	sort.Strings(files)
	cs := ChangeSet{Version: p.stateVersion, Files: files}
	p.snapshotReported(current)
	return cs
}

func (p *Project) currentFileSet() map[string]bool {
	set := make(map[string]bool)
	for _, f := range p.GetScriptFileNames() {
		set[p.sys.CanonicalPath(f)] = true
	}
	return set
}

func (p *Project) snapshotReported(current map[string]bool) {
	p.lastReportedFiles = current
	p.lastReportedVersion = p.stateVersion
	p.hasReported = true
	p.updatedSinceReport = make(map[string]bool)
}

func diffFileSets(before, after map[string]bool) (added, removed []string) {
	for f := range after {
		if !before[f] {
			added = append(added, f)
		}
	}
	for f := range before {
		if !after[f] {
			removed = append(removed, f)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
