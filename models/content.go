package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownContentKind = errors.New("неизвестный тип выгрузки контента")

type ContentKind string

const (
	ContentKindPage        ContentKind = "page"
	ContentKindOptionsPage ContentKind = "options_page"
	ContentKindForms       ContentKind = "forms"
	ContentKindBundle      ContentKind = "bundle"
)

// ContentDocument is the payload of a selected-content archive. The concrete
// type is one of *PageDocument, *OptionsPageDocument, *FormsDocument or
// *BundleDocument.
type ContentDocument interface {
	Kind() ContentKind
	MediaRefs() []MediaRef
}

type MediaRef struct {
	Name        string `json:"name"`
	ArchivePath string `json:"archive_path"`
	URL         string `json:"url,omitempty"`
}

type PageDocument struct {
	ID       int64          `json:"id"`
	Title    string         `json:"title"`
	Slug     string         `json:"slug"`
	Content  string         `json:"content"`
	Excerpt  string         `json:"excerpt,omitempty"`
	PostType string         `json:"post_type,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	Media    []MediaRef     `json:"media,omitempty"`
}

func (d *PageDocument) Kind() ContentKind     { return ContentKindPage }
func (d *PageDocument) MediaRefs() []MediaRef { return d.Media }

type OptionsPageDocument struct {
	Slug   string         `json:"slug"`
	Fields map[string]any `json:"fields"`
	Media  []MediaRef     `json:"media,omitempty"`
}

func (d *OptionsPageDocument) Kind() ContentKind     { return ContentKindOptionsPage }
func (d *OptionsPageDocument) MediaRefs() []MediaRef { return d.Media }

type FormsDocument struct {
	Forms []map[string]any `json:"forms"`
	Media []MediaRef       `json:"media,omitempty"`
}

func (d *FormsDocument) Kind() ContentKind     { return ContentKindForms }
func (d *FormsDocument) MediaRefs() []MediaRef { return d.Media }

type BundleDocument struct {
	Items []ContentDocument `json:"-"`
}

func (d *BundleDocument) Kind() ContentKind { return ContentKindBundle }

func (d *BundleDocument) MediaRefs() []MediaRef {
	var refs []MediaRef
	for _, item := range d.Items {
		refs = append(refs, item.MediaRefs()...)
	}
	return refs
}

type contentEnvelope struct {
	Type  ContentKind       `json:"type"`
	Items []json.RawMessage `json:"items,omitempty"`
}

// ParseContentDocument decodes a content payload into its concrete variant.
func ParseContentDocument(data []byte) (ContentDocument, error) {
	var env contentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("некорректный документ контента: %w", err)
	}

	var doc ContentDocument
	switch env.Type {
	case ContentKindPage:
		doc = &PageDocument{}
	case ContentKindOptionsPage:
		doc = &OptionsPageDocument{}
	case ContentKindForms:
		doc = &FormsDocument{}
	case ContentKindBundle:
		bundle := &BundleDocument{Items: make([]ContentDocument, 0, len(env.Items))}
		for i, raw := range env.Items {
			item, err := ParseContentDocument(raw)
			if err != nil {
				return nil, fmt.Errorf("элемент %d: %w", i, err)
			}
			bundle.Items = append(bundle.Items, item)
		}
		return bundle, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownContentKind, env.Type)
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("некорректный документ контента %s: %w", env.Type, err)
	}
	return doc, nil
}

// MarshalContentDocument encodes a document with its type tag.
func MarshalContentDocument(doc ContentDocument) ([]byte, error) {
	if bundle, ok := doc.(*BundleDocument); ok {
		items := make([]json.RawMessage, 0, len(bundle.Items))
		for _, item := range bundle.Items {
			raw, err := MarshalContentDocument(item)
			if err != nil {
				return nil, err
			}
			items = append(items, raw)
		}
		return json.Marshal(contentEnvelope{Type: ContentKindBundle, Items: items})
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(doc.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}
