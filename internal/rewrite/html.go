package rewrite

import (
	"errors"
	"io"
	"net/url"

	"golang.org/x/net/html"
)

// rewrittenAttrs are the attributes holding links, whatever the element.
var rewrittenAttrs = map[string]bool{
	"src":  true,
	"href": true,
}

// Document copies an HTML document from r to w, rewriting every src and href
// attribute with Link. Tags without such attributes, text, comments
// and anything the tokenizer cannot make sense of are copied byte for byte.
// Only read and write errors are returned.
func Document(w io.Writer, r io.Reader, backend *url.URL, prefix string) error {
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return err
			}
			// A tag cut off by the end of input is still emitted as is.
			_, err := w.Write(z.Raw())
			return err
		case html.StartTagToken, html.SelfClosingTagToken:
			// Token lower-cases the tag name inside the tokenizer buffer,
			// so the raw bytes are copied first.
			raw := append([]byte(nil), z.Raw()...)
			tok := z.Token()
			if !rewriteAttrs(&tok, backend, prefix) {
				if _, err := w.Write(raw); err != nil {
					return err
				}
				continue
			}
			if _, err := io.WriteString(w, tok.String()); err != nil {
				return err
			}
		default:
			if _, err := w.Write(z.Raw()); err != nil {
				return err
			}
		}
	}
}

// rewriteAttrs rewrites link attributes in place and reports whether the
// token carried any.
func rewriteAttrs(tok *html.Token, backend *url.URL, prefix string) bool {
	found := false
	for i, a := range tok.Attr {
		if a.Namespace != "" || !rewrittenAttrs[a.Key] {
			continue
		}
		tok.Attr[i].Val = Link(a.Val, backend, prefix)
		found = true
	}
	return found
}

// NewReader returns a reader yielding src rewritten by Document. The
// rewriting runs in its own goroutine; closing the returned reader closes
// src and waits for that goroutine to finish.
func NewReader(src io.ReadCloser, backend *url.URL, prefix string) io.ReadCloser {
	pr, pw := io.Pipe()
	rr := &rewriteReader{pr: pr, src: src, done: make(chan struct{})}
	go func() {
		defer close(rr.done)
		err := Document(pw, src, backend, prefix)
		_ = src.Close()
		_ = pw.CloseWithError(err)
	}()
	return rr
}

type rewriteReader struct {
	pr   *io.PipeReader
	src  io.Closer
	done chan struct{}
}

func (r *rewriteReader) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

func (r *rewriteReader) Close() error {
	_ = r.pr.Close()
	err := r.src.Close()
	<-r.done
	return err
}
