package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// categoryDirs maps library directory names to categories. The library layout
// mirrors the template repository: one directory per category, one
// subdirectory per template.
var categoryDirs = map[string]Category{
	"backend":        CategoryBackend,
	"frontend":       CategoryFrontend,
	"ai":             CategoryAIAgent,
	"business":       CategoryBusiness,
	"infrastructure": CategoryInfrastructure,
	"governance":     CategoryGovernance,
	"connectors":     CategoryConnector,
	"industry":       CategoryIndustry,
}

// CategoryCount pairs a category with its indexed template count.
type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

// Catalog is an immutable index of the template library. It is built once at
// startup (or on an explicit Reload) and shared read-only across handlers and
// compositions.
type Catalog struct {
	root       string
	byRef      map[Ref]*Descriptor
	byCategory map[Category][]*Descriptor
	snapshot   string
}

// Load scans the library root and builds the catalog index. Templates with a
// missing or invalid descriptor are logged as warnings and omitted; a library
// root that exists but holds no valid templates yields an empty catalog, not
// an error.
func Load(root string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("stat library root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("library root is not a directory: %s", absRoot)
	}

	c := &Catalog{
		root:       absRoot,
		byRef:      make(map[Ref]*Descriptor),
		byCategory: make(map[Category][]*Descriptor),
	}

	matches, err := doublestar.Glob(os.DirFS(absRoot), "*/*/"+DescriptorFile)
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}

	for _, rel := range matches {
		// rel is <category-dir>/<template-dir>/template.json.
		catDir := filepath.Dir(filepath.Dir(rel))
		cat, ok := categoryDirs[catDir]
		if !ok {
			logger.Warn("Skipping template outside a known category directory",
				"path", rel)
			continue
		}

		path := filepath.Join(absRoot, rel)
		d, err := loadDescriptor(path)
		if err != nil {
			logger.Warn("Skipping template with invalid descriptor",
				"path", path,
				"error", err)
			continue
		}

		if d.Category != cat {
			logger.Warn("Skipping template whose descriptor category does not match its directory",
				"path", path,
				"descriptor_category", d.Category,
				"directory_category", cat)
			continue
		}

		d.Dir = filepath.Dir(path)
		ref := d.Ref()
		if _, exists := c.byRef[ref]; exists {
			logger.Warn("Skipping duplicate template slug", "ref", ref.String())
			continue
		}

		c.byRef[ref] = d
		c.byCategory[cat] = append(c.byCategory[cat], d)
	}

	for cat := range c.byCategory {
		sort.Slice(c.byCategory[cat], func(i, j int) bool {
			return c.byCategory[cat][i].Slug < c.byCategory[cat][j].Slug
		})
	}

	c.snapshot = c.computeSnapshot()

	logger.Info("Template catalog loaded",
		"root", absRoot,
		"templates", len(c.byRef),
		"snapshot", c.snapshot)

	return c, nil
}

// Root returns the library root the catalog was built from.
func (c *Catalog) Root() string { return c.root }

// Len returns the number of indexed templates.
func (c *Catalog) Len() int { return len(c.byRef) }

// CategoryCounts enumerates categories with their indexed template counts,
// including empty categories, in stable order.
func (c *Catalog) CategoryCounts() []CategoryCount {
	counts := make([]CategoryCount, 0, len(Categories))
	for _, cat := range Categories {
		counts = append(counts, CategoryCount{Category: cat, Count: len(c.byCategory[cat])})
	}
	return counts
}

// Templates returns the descriptors in a category, sorted by slug.
func (c *Catalog) Templates(cat Category) []*Descriptor {
	return c.byCategory[cat]
}

// Resolve looks up a descriptor by (category, slug).
func (c *Catalog) Resolve(cat Category, slug string) (*Descriptor, bool) {
	d, ok := c.byRef[Ref{Category: cat, Slug: slug}]
	return d, ok
}

// ResolveRef looks up a descriptor by ref.
func (c *Catalog) ResolveRef(ref Ref) (*Descriptor, bool) {
	d, ok := c.byRef[ref]
	return d, ok
}

// Snapshot returns a content hash of the aggregate descriptor set. Two
// catalogs with identical descriptors produce identical snapshots regardless
// of filesystem scan order; the hash fingerprints system-metadata.json so
// downstream consumers can detect library drift.
func (c *Catalog) Snapshot() string { return c.snapshot }

func (c *Catalog) computeSnapshot() string {
	refs := make([]Ref, 0, len(c.byRef))
	for ref := range c.byRef {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Category != refs[j].Category {
			return refs[i].Category < refs[j].Category
		}
		return refs[i].Slug < refs[j].Slug
	})

	h := sha256.New()
	for _, ref := range refs {
		d := c.byRef[ref]
		entry := struct {
			Ref       string     `json:"ref"`
			Version   string     `json:"version"`
			Templated []string   `json:"templated"`
			Variables []Variable `json:"variables"`
			Outputs   []string   `json:"outputs"`
			DependsOn []string   `json:"depends_on"`
			Desc      string     `json:"description"`
		}{
			Ref:       ref.String(),
			Version:   d.Version,
			Templated: d.Templated,
			Variables: d.Variables,
			Outputs:   d.Outputs,
			DependsOn: d.DependsOn,
			Desc:      d.Description,
		}
		data, _ := json.Marshal(entry)
		h.Write(data)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
