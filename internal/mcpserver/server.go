// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes dossier generation tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/writer"
)

const contractURI = "dossier://template-format"

// Server wraps the MCP server with dossier tools.
type Server struct {
	mcp *server.MCPServer
	svc *writer.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *writer.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Dossier",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("generate_document",
		mcp.WithDescription("Generate a cited document from a template. Every section is written from "+
			"the ingested sources and cites them as [n]; a numbered reference list is attached. "+
			"Read the template contract first via get_template_contract or the "+contractURI+" resource."),
		mcp.WithString("template", mcp.Required(), mcp.Description("Markdown template following the dossier template contract")),
		mcp.WithString("title", mcp.Description("Optional document title overriding the template")),
		mcp.WithBoolean("generate_containers", mcp.Description("Also write prose for sections that have subsections")),
		mcp.WithNumber("max_concurrency", mcp.Description("Sections drafted in parallel (default from server config)")),
	), s.generateDocument)

	s.mcp.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Get the status, section outcomes and reference table of a generation run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id returned by generate_document")),
	), s.getRun)

	s.mcp.AddTool(mcp.NewTool("refine_section",
		mcp.WithDescription("Revise one section of a generated document. Existing citation numbers are kept; "+
			"no new sources are added."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Section node id")),
		mcp.WithString("request", mcp.Required(), mcp.Description("What to change")),
	), s.refineSection)

	s.mcp.AddTool(mcp.NewTool("export_citations",
		mcp.WithDescription("Export the reference table of a run as JSON or BibTeX."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithString("format", mcp.Description("json (default) or bibtex")),
	), s.exportCitations)

	s.mcp.AddTool(mcp.NewTool("search_sources",
		mcp.WithDescription("Similarity search over ingested source passages."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)")),
	), s.searchSources)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List the ingested source documents."),
	), s.listSources)

	s.mcp.AddTool(mcp.NewTool("add_source",
		mcp.WithDescription("Download a PDF, text or Markdown document from an http(s) or base64 data: URL "+
			"and ingest it as a source."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI")),
		mcp.WithString("filename", mcp.Description("File name to store it under (derived from the URL if empty)")),
		mcp.WithString("dir", mcp.Description("Optional sub-directory")),
	), s.addSource)

	s.mcp.AddTool(mcp.NewTool("get_template_contract",
		mcp.WithDescription("Returns the dossier template format and citation conventions. "+
			"Call this before writing a template for generate_document."),
	), s.getTemplateContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Template Format Contract",
			mcp.WithResourceDescription("Document template format and citation conventions."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) generateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tmpl, err := req.RequireString("template")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	greq := writer.GenerateRequest{
		Title:    req.GetString("title", ""),
		Template: tmpl,
	}
	if args := req.GetArguments(); args != nil {
		if _, ok := args["generate_containers"]; ok {
			v := req.GetBool("generate_containers", false)
			greq.Overrides.GenerateContainers = &v
		}
	}
	greq.Overrides.MaxConcurrency = req.GetInt("max_concurrency", 0)

	doc, err := s.svc.Generate(ctx, greq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(documentText(doc)), nil
}

// documentText renders the document followed by a status footer the caller can act on.
func documentText(doc *models.Document) string {
	var b strings.Builder
	b.WriteString(doc.Markdown())
	fmt.Fprintf(&b, "\n---\nrun_id: %s\ncitations: %d\nfailed_sections: %d\n", doc.RunID, len(doc.ReferenceTable), doc.FailedSections)
	for _, s := range doc.Sections {
		if s.Status == models.StatusFailed {
			fmt.Fprintf(&b, "failed: %s (%s)\n", s.NodeID, s.Reason)
		}
	}
	return b.String()
}

func (s *Server) getRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, doc, err := s.svc.GetRun(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{"run": sum, "document": doc}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) refineSection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var rr writer.RefineRequest
	var err error
	if rr.RunID, err = req.RequireString("run_id"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if rr.NodeID, err = req.RequireString("node_id"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if rr.Request, err = req.RequireString("request"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sec, err := s.svc.Refine(ctx, rr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(sec.Content), nil
}

func (s *Server) exportCitations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format := req.GetString("format", writer.FormatJSON)
	if format != writer.FormatJSON && format != writer.FormatBibTeX {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported format: %s (json or bibtex)", format)), nil
	}
	body, _, err := s.svc.Export(ctx, id, format)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Server) searchSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 10))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listSources(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := s.svc.Sources(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText("no sources ingested"), nil
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = fmt.Sprintf("%s\t%d pages\t%d chunks", r.Path, r.Pages, r.ChunkCount)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getTemplateContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TemplateContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     TemplateContract,
		},
	}, nil
}
