package mcpserver

// TemplateContract describes the document template format accepted by
// generate_document and how citations appear in the output.
const TemplateContract = `# Dossier Template Contract

A template is Markdown with optional YAML frontmatter. It defines the table of
contents of the document to generate; it does not contain the prose.

## Structure

` + "```" + `markdown
---
title: Module 3 Quality Summary    # OPTIONAL - document title
description: Summary for filing    # OPTIONAL - applies to the whole document
---

# 3.2.S Drug Substance {#drug-substance}
Describe the substance and its manufacturer.

## 3.2.S.1 General Information
## 3.2.S.2 Manufacture

# 3.2.P Drug Product

# References
` + "```" + `

## Rules

1. **Headings define sections.** The number of ` + "`#`" + ` sets the nesting level.
2. **Text under a heading** becomes that section's requirements and is shown to the writer.
3. **Numbering is dropped.** ` + "`3.2.S.1 General Information`" + ` becomes ` + "`General Information`" + `.
4. **Anchors** such as ` + "`{#drug-substance}`" + ` set a stable node id. Ids must be unique;
   nodes without one get a generated id.
5. **A single top-level heading** with children and no frontmatter title becomes the document title.
6. **Outlines** without headings are accepted: each line is a section and every four
   spaces (or one tab) of indentation is one level.
7. **Parent sections** are headers only unless ` + "`generate_containers`" + ` is true.
8. **References** as a top-level section marks where the reference list goes. Without
   one, the list is appended at the end when anything was cited.

## Citations in the output

- Sections cite sources as ` + "`[n]`" + `. Numbers are assigned in document order: the first
  source cited in the earliest section is ` + "`[1]`" + `, no matter which section finished first.
- A source passage cited by several sections keeps one number.
- The reference list has one line per number: ` + "`[n] source_name, p. page`" + ` (the page is
  omitted for sources without pages).
- A section that could not be generated is kept with a short notice; the rest of the
  document is still returned.
`
