package builder

import (
	"context"
	"regexp"
	"sort"

	"relay/internal/core/ports"
)

var (
	importPattern  = regexp.MustCompile(`(?m)^\s*(?:import|export)\b[^'"\n]*?['"]([^'"]+)['"]`)
	requirePattern = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
	typeRefPattern = regexp.MustCompile(`///\s*<reference\s+types\s*=\s*"([^"]+)"`)
)

// Builder is a reference program builder: it walks the import closure of
// the root files with a line-level specifier scanner, resolving every name
// through the supplied resolver. Deployments with a real checker plug in
// their own ports.ProgramBuilder; the caching and watch behavior upstream
// is identical either way.
type Builder struct {
	fs ports.FileSystem
}

func New(fs ports.FileSystem) *Builder {
	return &Builder{fs: fs}
}

var _ ports.ProgramBuilder = (*Builder)(nil)

func (b *Builder) Build(ctx context.Context, req ports.BuildRequest) (*ports.Program, error) {
	prog := &ports.Program{
		UnresolvedImports: make(map[string][]string),
	}

	visited := make(map[string]bool)
	missing := make(map[string]bool)
	queue := append([]string(nil), req.RootFiles...)

	for len(queue) > 0 {
		// Cancellation is checked between per-file units of work only;
		// resolving a single name is cheap and non-cancellable.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file := queue[0]
		queue = queue[1:]
		if visited[file] {
			continue
		}
		visited[file] = true

		content, ok := b.fs.ReadFile(file)
		if !ok {
			missing[file] = true
			continue
		}
		prog.FileNames = append(prog.FileNames, file)

		moduleNames, typeRefs := scanSpecifiers(content)

		results := req.Resolver.ResolveModuleNames(moduleNames, file, nil, true)
		for i, res := range results {
			switch {
			case !res.Resolved:
				prog.UnresolvedImports[file] = append(prog.UnresolvedImports[file], moduleNames[i])
			case b.fs.FileExists(res.Path):
				queue = append(queue, res.Path)
			default:
				missing[res.Path] = true
			}
		}

		typeResults := req.Resolver.ResolveTypeReferenceDirectives(typeRefs, file)
		for i, res := range typeResults {
			switch {
			case !res.Resolved:
				prog.UnresolvedImports[file] = append(prog.UnresolvedImports[file], typeRefs[i])
			case b.fs.FileExists(res.Path):
				queue = append(queue, res.Path)
			default:
				missing[res.Path] = true
			}
		}
	}

	for path := range missing {
		prog.MissingPaths = append(prog.MissingPaths, path)
	}
	sort.Strings(prog.MissingPaths)

	return prog, nil
}

func scanSpecifiers(content string) (moduleNames, typeRefs []string) {
	seenModules := make(map[string]bool)
	seenTypeRefs := make(map[string]bool)
	add := func(dst []string, seen map[string]bool, name string) []string {
		if name == "" || seen[name] {
			return dst
		}
		seen[name] = true
		return append(dst, name)
	}

	for _, m := range importPattern.FindAllStringSubmatch(content, -1) {
		moduleNames = add(moduleNames, seenModules, m[1])
	}
	for _, m := range requirePattern.FindAllStringSubmatch(content, -1) {
		moduleNames = add(moduleNames, seenModules, m[1])
	}
	for _, m := range typeRefPattern.FindAllStringSubmatch(content, -1) {
		typeRefs = add(typeRefs, seenTypeRefs, m[1])
	}
	return moduleNames, typeRefs
}
