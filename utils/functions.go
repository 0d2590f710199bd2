package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"mime"
	"net"
	"net/http"
	u "net/url"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const ToolUserAgent = "hoard/1.0"

// FallbackFilename is used when sanitization leaves nothing usable.
const FallbackFilename = "download"

const maxFilenameLength = 200

type DownloadEntry struct {
	URL        string `yaml:"link"`
	OutputPath string `yaml:"op"`
}

// DeriveTransferID maps a URL to a stable fixed-length identifier so the
// same URL always resolves to the same persisted transfer. Query and
// fragment are ignored; the digest is truncated sha1, opaque but not
// meant to be cryptographically strong.
func DeriveTransferID(rawURL string) string {
	normalized := rawURL
	if parsed, err := u.Parse(rawURL); err == nil {
		parsed.RawQuery = ""
		parsed.Fragment = ""
		normalized = parsed.String()
	} else {
		if i := strings.IndexAny(normalized, "?#"); i >= 0 {
			normalized = normalized[:i]
		}
	}
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])[:20]
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	underscoreRuns      = regexp.MustCompile(`_{2,}`)
	whitespaceRuns      = regexp.MustCompile(`\s{2,}`)
)

// SanitizeFilename makes an untrusted filename (typically from a
// Content-Disposition header) safe for local use.
func SanitizeFilename(raw string) string {
	name := raw
	if decoded, err := u.PathUnescape(name); err == nil {
		name = decoded
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")
	name = whitespaceRuns.ReplaceAllString(name, " ")
	name = strings.Trim(name, "._ \t")
	if len(name) > maxFilenameLength {
		ext := path.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		cut := maxFilenameLength - len(ext)
		// Back up to a rune boundary so the cut never splits a
		// multi-byte character.
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}
	if name == "" || name == "_" {
		return FallbackFilename
	}
	return name
}

var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".zip":  "application/zip",
	".rar":  "application/vnd.rar",
	".7z":   "application/x-7z-compressed",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".iso":  "application/x-iso9660-image",
}

func MimeTypeFor(filename string) string {
	if mt, ok := mimeTypes[strings.ToLower(path.Ext(filename))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// ParseContentDisposition extracts a filename from a Content-Disposition
// header, preferring the RFC 5987 extended form over plain filename=.
func ParseContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if fn, ok := params["filename*"]; ok && fn != "" {
			if strings.HasPrefix(fn, "UTF-8''") {
				if unescaped, err := u.PathUnescape(strings.TrimPrefix(fn, "UTF-8''")); err == nil {
					return unescaped
				}
			}
		}
		if fn, ok := params["filename"]; ok && fn != "" {
			return fn
		}
	}
	// Fall back to manual extraction for headers mime rejects
	lower := strings.ToLower(header)
	idx := strings.Index(lower, "filename=")
	if idx < 0 {
		return ""
	}
	value := header[idx+len("filename="):]
	if semi := strings.IndexByte(value, ';'); semi >= 0 {
		value = value[:semi]
	}
	return strings.Trim(strings.TrimSpace(value), `"`)
}

// FilenameFromURL derives a candidate filename from the URL path.
func FilenameFromURL(rawURL string) string {
	parsed, err := u.Parse(rawURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return FallbackFilename
	}
	return SanitizeFilename(path.Base(parsed.Path))
}

// includes logger
func CreateHTTPClient(timeout time.Duration, kaTimeout time.Duration, proxyURL string) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100, // for connection reuse
		IdleConnTimeout:     kaTimeout,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if proxyURL != "" {
		proxyURLParsed, err := u.Parse(proxyURL)
		if err != nil {
			log.Error().Err(err).Str("proxy", proxyURL).Msg("Invalid proxy URL, proceeding without proxy")
		} else {
			transport.Proxy = http.ProxyURL(proxyURLParsed)
			log.Debug().Str("proxy", proxyURL).Msg("Using proxy for connections")
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// ProbeFileInfo issues a HEAD request to learn the content length and a
// server-suggested filename. Returns ErrRangeRequestsNotSupported when
// the server does not advertise byte ranges; size and filename are still
// populated as far as the response allows.
func ProbeFileInfo(url string, userAgent string, client *http.Client) (int64, string, error) {
	req, err := http.NewRequest("HEAD", url, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	filename := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		filename = SanitizeFilename(ParseContentDisposition(cd))
	}
	var size int64
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if parsed, err := strconv.ParseInt(contentLength, 10, 64); err == nil && parsed > 0 {
			size = parsed
		}
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return size, filename, ErrRangeRequestsNotSupported
	}
	return size, filename, nil
}

// includes logger
func ReadDownloadList(filePath string) ([]DownloadEntry, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %v", err)
	}
	var entries []DownloadEntry
	err = yaml.Unmarshal(data, &entries)
	if err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %v", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing URL for entry %d", i+1)
		}
	}
	log.Debug().Int("count", len(entries)).Msg("Entries loaded from YAML")
	return entries, nil
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
