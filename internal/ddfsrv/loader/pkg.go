package loader

import (
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key is a resource primary key; the manifest writes single-component keys
// as a bare string and composite keys as an array.
type Key []string

func (k *Key) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = Key{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*k = Key(list)
	return nil
}

// Field is one declared CSV column.
type Field struct {
	Name string `json:"name"`
}

// Resource is one CSV file of the package.
type Resource struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Schema struct {
		Fields     []Field `json:"fields"`
		PrimaryKey Key     `json:"primaryKey"`
	} `json:"schema"`
}

// SchemaEntry is one ddfSchema row: a key tuple, one value column, and the
// resources contributing it.
type SchemaEntry struct {
	PrimaryKey []string `json:"primaryKey"`
	Value      string   `json:"value"`
	Resources  []string `json:"resources"`
}

// DDFSchema indexes the package content by kind.
type DDFSchema struct {
	Concepts   []SchemaEntry `json:"concepts"`
	Entities   []SchemaEntry `json:"entities"`
	Datapoints []SchemaEntry `json:"datapoints"`
}

// Translation is one declared translation language.
type Translation struct {
	ID string `json:"id"`
}

// Manifest is the datapackage.json of a DDF package.
type Manifest struct {
	Name         string        `json:"name"`
	Translations []Translation `json:"translations"`
	Resources    []Resource    `json:"resources"`
	DDFSchema    *DDFSchema    `json:"ddfSchema"`
}

// Package is a DDF package directory, parsed and indexed.
type Package struct {
	Dir      string
	Manifest Manifest

	resources map[string]*Resource
	// translationFiles maps language -> resource path, for the languages
	// that actually ship a translated copy of that resource.
	translationFiles map[string]map[string]bool
}

// ReadPackage parses dir/datapackage.json and discovers translation files
// under lang/<id>/.
func ReadPackage(dir string) (*Package, apperrors.Error) {
	data, err := os.ReadFile(filepath.Join(dir, "datapackage.json"))
	if err != nil {
		return nil, ErrPackage.MsgErr("cannot read datapackage.json", err)
	}
	p := &Package{Dir: dir}
	if err := json.Unmarshal(data, &p.Manifest); err != nil {
		return nil, ErrPackage.MsgErr("cannot parse datapackage.json", err)
	}
	if p.Manifest.DDFSchema == nil {
		return nil, ErrSchemaValidation.Msg("the package has no ddfSchema section")
	}

	p.resources = make(map[string]*Resource, len(p.Manifest.Resources))
	for i := range p.Manifest.Resources {
		r := &p.Manifest.Resources[i]
		p.resources[r.Name] = r
	}

	p.translationFiles = map[string]map[string]bool{}
	for _, t := range p.Manifest.Translations {
		files := map[string]bool{}
		root := filepath.Join(dir, "lang", t.ID)
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil // a declared language without files is fine
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil {
				files[filepath.ToSlash(rel)] = true
			}
			return nil
		})
		if len(files) > 0 {
			p.translationFiles[t.ID] = files
		}
	}
	return p, nil
}

// Resource returns a resource by its manifest name.
func (p *Package) Resource(name string) (*Resource, apperrors.Error) {
	r, ok := p.resources[name]
	if !ok {
		return nil, ErrSchemaValidation.Msg("ddfSchema references unknown resource " + name)
	}
	return r, nil
}

// Languages lists the declared languages that ship at least one file.
func (p *Package) Languages() []string {
	langs := make([]string, 0, len(p.translationFiles))
	for l := range p.translationFiles {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// TranslationPath returns the path of the translated copy of a resource for
// the language, or "" when that language never translated the file.
func (p *Package) TranslationPath(lang string, r *Resource) string {
	files, ok := p.translationFiles[lang]
	if !ok || !files[r.Path] {
		return ""
	}
	return filepath.Join(p.Dir, "lang", lang, filepath.FromSlash(r.Path))
}

// FilePath returns the absolute path of a resource's CSV file.
func (p *Package) FilePath(r *Resource) string {
	return filepath.Join(p.Dir, filepath.FromSlash(r.Path))
}

// AssetDir returns the package's assets directory, or "" when there is
// none.
func (p *Package) AssetDir() string {
	dir := filepath.Join(p.Dir, "assets")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}
	return dir
}
