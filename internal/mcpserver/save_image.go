package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/storage"
)

const (
	maxImageSize     = 10 << 20 // 10 MB
	maxImageRedirect = 5
	fetchTimeout     = 30 * time.Second
)

type saveImageResult struct {
	ID            string `json:"id"`
	NotebookID    string `json:"notebookId"`
	MarkdownImage string `json:"markdownImage"`
	// AttachedTo is the note the image was appended to, if any.
	AttachedTo string `json:"attachedTo,omitempty"`
}

// image is fetched image content with the type its source claimed, if any.
type image struct {
	data     []byte
	declared string
}

func (s *Server) saveImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notebookID := req.GetString("notebook_id", models.DefaultNotebook)
	alt := req.GetString("alt", "")
	noteID := req.GetString("note_id", "")

	var target *models.Note
	if noteID != "" {
		target, err = s.svc.GetNote(ctx, noteID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("note not found: %s", noteID)), nil
		}
		if target.Type != models.KindMarkdown {
			return mcp.NewToolResultError("images can only be attached to markdown notes"), nil
		}
		if req.GetString("notebook_id", "") == "" {
			notebookID = target.NotebookID
		}
	}

	img, err := loadImage(ctx, src)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ext := storage.SniffImage(img.data)
	if ext == "" {
		return mcp.NewToolResultError(fmt.Sprintf("content is not a supported image (%s)",
			strings.Join(storage.ImageExts, ", "))), nil
	}
	if img.declared != "" && storage.ImageExt(img.declared) != ext {
		return mcp.NewToolResultError(fmt.Sprintf("declared type %s does not match content (%s)", img.declared, ext)), nil
	}

	n, err := s.svc.SaveImage(ctx, notebookID, ext, img.data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save image: %v", err)), nil
	}
	if alt == "" {
		alt = n.Title
	}
	res := saveImageResult{
		ID:            n.ID,
		NotebookID:    n.NotebookID,
		MarkdownImage: markdownImage(alt, n.ID),
	}

	if target != nil {
		content := strings.TrimRight(target.Content, "\n") + "\n\n" + res.MarkdownImage + "\n"
		if _, err := s.svc.UpdateNote(ctx, target.ID, content, storage.UpdateOptions{}); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image saved as %s but attaching it failed: %v", n.ID, err)), nil
		}
		res.AttachedTo = target.ID
	}

	out, _ := json.Marshal(res)
	return mcp.NewToolResultText(string(out)), nil
}

// markdownImage is the embed the web client resolves through GET /api/images.
func markdownImage(alt, id string) string {
	alt = strings.NewReplacer("[", "", "]", "", "\n", " ").Replace(alt)
	return fmt.Sprintf("![%s](/api/images?path=%s)", alt, url.QueryEscape(id))
}

func loadImage(ctx context.Context, src string) (*image, error) {
	if strings.HasPrefix(src, "data:") {
		return decodeDataURI(src)
	}
	return fetchImage(ctx, src)
}

// decodeDataURI parses a data:<mediatype>;base64,<data> URI.
func decodeDataURI(uri string) (*image, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}
	params := strings.Split(meta, ";")
	if params[len(params)-1] != "base64" {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}
	if len(encoded) > base64.StdEncoding.EncodedLen(maxImageSize) {
		return nil, fmt.Errorf("image too large (max %d bytes)", maxImageSize)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	declared := params[0]
	if declared != "" && storage.ImageExt(declared) == "" {
		return nil, fmt.Errorf("unsupported media type in data URI: %s", declared)
	}
	return &image{data: data, declared: declared}, nil
}

// fetchImage downloads an image from an http(s) URL. The declared type is the
// response content type, or the URL path extension when the server sends a
// generic one.
func fetchImage(ctx context.Context, rawURL string) (*image, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q (only http and https)", u.Scheme)
	}
	if err := checkHost(u.Hostname()); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxImageRedirect {
				return fmt.Errorf("too many redirects (max %d)", maxImageRedirect)
			}
			return checkHost(req.URL.Hostname())
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("image too large (max %d bytes)", maxImageSize)
	}

	declared := resp.Header.Get("Content-Type")
	if storage.ImageExt(declared) == "" {
		// application/octet-stream and friends say nothing; fall back to
		// the file name, and to sniffing alone when that is no better.
		declared = ""
		if ext := storage.ImageExt(path.Ext(u.Path)); ext != "" {
			declared = ext
		}
	}
	return &image{data: data, declared: declared}, nil
}

// checkHost rejects hosts that resolve to loopback, link-local (which covers
// cloud metadata endpoints) or unspecified addresses.
func checkHost(host string) error {
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if strings.EqualFold(host, "metadata.google.internal") {
		return fmt.Errorf("blocked host: %s", host)
	}

	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		resolved, err := net.LookupIP(host)
		if err != nil || len(resolved) == 0 {
			return nil //nolint:nilerr // the HTTP client reports DNS failures
		}
		ips = resolved
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("blocked host: %s resolves to %s", host, ip)
		}
	}
	return nil
}
