// ABOUTME: Shared test fixtures: content models, page bodies and users
// ABOUTME: Used by package tests across pkg/ and internal/

package testutil

import "github.com/jonny5532/wagtail-liveedit/pkg/permission"

// Models is a content model file with a draftable page type and a snippet.
const Models = `
models:
  - content_type_id: 1
    name: standard_page
    app: pages
    kind: page
    editable: [body]
    fields:
      - name: body
        kind: stream
        children:
          - &text
            name: text
            kind: struct
            fields:
              - {name: body, kind: richtext, required: true}
          - name: section
            kind: stream
            children:
              - *text
          - name: list
            kind: struct
            fields:
              - {name: title, kind: text}
              - name: items
                kind: list
                item:
                  name: item
                  kind: struct
                  fields:
                    - {name: body, kind: richtext}
          - name: required
            kind: struct
            fields:
              - {name: text, kind: text, required: true}
          - name: columns
            kind: struct
            fields:
              - name: columns
                kind: list
                item:
                  name: item
                  kind: stream
                  children:
                    - *text
          - name: counter
            kind: struct
            cue: "count: >=0 & <=100"
            fields:
              - {name: count, kind: integer, required: true}
              - {name: visible, kind: boolean}
          - {name: heading, kind: text, required: true}
          - {name: number, kind: integer}
      - name: sidebar
        kind: stream
        children:
          - *text
  - content_type_id: 2
    name: footer
    app: snippets
    kind: snippet
    editable: [content]
    fields:
      - name: content
        kind: stream
        children:
          - *text
`

// Body is a page body with struct, stream, list and nested column
// containers.
const Body = `[
  {"type": "text", "id": "t1", "value": {"body": "<h2>hello world</h2>"}},
  {"type": "text", "id": "t2", "value": {"body": "<p>The first paragraph.</p>"}},
  {"type": "section", "id": "s1", "value": [
    {"type": "text", "id": "s1-t1", "value": {"body": "<p>Text inside a section.</p>"}},
    {"type": "text", "id": "s1-t2", "value": {"body": "<p>A second text inside a section.</p>"}}
  ]},
  {"type": "list", "id": "l1", "value": {
    "title": "This is a list",
    "items": [
      {"type": "item", "id": "l1-i1", "value": {"body": "<p>Testing</p>"}}
    ]
  }},
  {"type": "required", "id": "r1", "value": {"text": "This is text"}},
  {"type": "columns", "id": "c1", "value": {
    "columns": [
      {"type": "item", "id": "c1-col1", "value": [
        {"type": "text", "id": "c1-col1-t1", "value": {"body": "<p>A text inside a column.</p>"}},
        {"type": "text", "id": "c1-col1-t2", "value": {"body": "<p>A second text inside a column.</p>"}}
      ]}
    ]
  }}
]`

// ScalarBody is a page body whose blocks hold plain values.
const ScalarBody = `[
  {"type": "heading", "id": "h1", "value": "Welcome"},
  {"type": "number", "id": "n1", "value": 7}
]`

// FooterContent is the stream of the footer snippet.
const FooterContent = `[
  {"type": "text", "id": "f1", "value": {"body": "<p>Footer</p>"}}
]`

// Editor may edit pages and snippets.
func Editor() *permission.User {
	return &permission.User{
		Username:    "alice",
		Active:      true,
		Permissions: []string{permission.PermAccessAdmin, "pages.change_page", "snippets.change"},
	}
}

// SnippetEditor may only edit snippets.
func SnippetEditor() *permission.User {
	return &permission.User{
		Username:    "bob",
		Active:      true,
		Permissions: []string{permission.PermAccessAdmin, "snippets.change"},
	}
}

// Outsider holds page permissions but cannot reach the admin.
func Outsider() *permission.User {
	return &permission.User{
		Username:    "mallory",
		Active:      true,
		Permissions: []string{"pages.change_page", "snippets.change"},
	}
}
