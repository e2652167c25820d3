// Package catalog は配信元カタログ（YAML）の読み込みと検索を提供する。
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/devfeed/internal/model"
)

//go:embed sources.yaml
var defaultSources []byte

// ErrInvalidCatalog はカタログの内容が不正な場合のエラー。
var ErrInvalidCatalog = errors.New("配信元カタログが不正です")

type catalogFile struct {
	Sources []model.FeedSource `yaml:"sources"`
}

// Catalog は読み込み済みの配信元一覧。読み込み後は変更しない。
type Catalog struct {
	sources []model.FeedSource
	bySlug  map[string]int
	groups  []string
}

// Load はpathのYAMLからカタログを読み込む。pathが空の場合は組み込みのカタログを使う。
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultSources)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("カタログファイルの読み込みに失敗: %w", err)
	}
	return Parse(data)
}

// Default は組み込みのカタログを返す。
func Default() *Catalog {
	c, err := Parse(defaultSources)
	if err != nil {
		panic(fmt.Sprintf("組み込みカタログが不正です: %v", err))
	}
	return c
}

// New は配信元のスライスからカタログを生成する。
func New(sources []model.FeedSource) (*Catalog, error) {
	c := &Catalog{
		sources: make([]model.FeedSource, 0, len(sources)),
		bySlug:  make(map[string]int, len(sources)),
	}
	for i, src := range sources {
		if err := validate(src); err != nil {
			return nil, fmt.Errorf("%w: sources[%d]: %v", ErrInvalidCatalog, i, err)
		}
		if _, dup := c.bySlug[src.Slug]; dup {
			return nil, fmt.Errorf("%w: slug %q が重複しています", ErrInvalidCatalog, src.Slug)
		}
		src.Kind = src.ItemKindOrDefault()
		c.bySlug[src.Slug] = len(c.sources)
		c.sources = append(c.sources, src)
		if !slices.Contains(c.groups, src.Group) {
			c.groups = append(c.groups, src.Group)
		}
	}
	return c, nil
}

// Parse はYAMLからカタログを生成する。
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return New(f.Sources)
}

func validate(src model.FeedSource) error {
	switch {
	case src.Slug == "":
		return errors.New("slug は必須です")
	case src.Name == "":
		return errors.New("name は必須です")
	case src.Group == "":
		return errors.New("group は必須です")
	case len(src.FeedURLs) == 0 && len(src.LegacyURLs) == 0 && src.IndexURL == "":
		return fmt.Errorf("%s: feedUrls・legacyUrls・indexUrl のいずれかが必要です", src.Slug)
	}
	switch src.Kind {
	case "", model.ItemKindBlog, model.ItemKindDocs, model.ItemKindRelease:
	default:
		return fmt.Errorf("%s: 不明な kind %q", src.Slug, src.Kind)
	}
	return nil
}

// All は全配信元をカタログ順に返す。
func (c *Catalog) All() []model.FeedSource {
	return slices.Clone(c.sources)
}

// Get はslugの配信元を返す。
func (c *Catalog) Get(slug string) (model.FeedSource, bool) {
	i, ok := c.bySlug[slug]
	if !ok {
		return model.FeedSource{}, false
	}
	return c.sources[i], true
}

// Groups はカタログに現れるグループ名を出現順に返す。
func (c *Catalog) Groups() []string {
	return slices.Clone(c.groups)
}

// Filter はグループと許可リストで配信元を絞り込む。
// groupが空なら全グループ、allowが空なら全配信元が対象。
func (c *Catalog) Filter(group string, allow []string) []model.FeedSource {
	var out []model.FeedSource
	for _, src := range c.sources {
		if group != "" && src.Group != group {
			continue
		}
		if len(allow) > 0 && !slices.Contains(allow, src.Slug) {
			continue
		}
		out = append(out, src)
	}
	return out
}
