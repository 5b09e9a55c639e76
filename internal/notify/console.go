package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Console prints notifications to a writer and answers prompts with the next
// line read from a reader. Once the reader is exhausted every prompt fails
// with the input error, io.ErrUnexpectedEOF on a clean end of input.
type Console struct {
	out      io.Writer
	in       io.Reader
	imageDir string
	box      *Mailbox

	mu       sync.Mutex
	feedOnce sync.Once
	done     chan struct{}
	inErr    error
}

// NewConsole builds a console channel. Images are written under imageDir
// (the working directory when empty).
func NewConsole(out io.Writer, in io.Reader, imageDir string) *Console {
	return &Console{out: out, in: in, imageDir: imageDir, box: NewMailbox(), done: make(chan struct{})}
}

func (c *Console) SendMessage(ctx context.Context, text string, details ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "> %s\n", text); err != nil {
		return err
	}
	for _, d := range details {
		if _, err := fmt.Fprintf(c.out, "    %s\n", d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) SendImage(ctx context.Context, data []byte, mime string) error {
	name := fmt.Sprintf("checkout-%s%s", time.Now().UTC().Format("20060102T150405"), Extension(mime))
	path := filepath.Join(c.imageDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return c.SendMessage(ctx, "Screenshot saved", path)
}

func (c *Console) SendOptions(ctx context.Context, labels []string) (string, error) {
	select {
	case <-c.done:
		return "", c.inErr
	default:
	}
	ticket, err := c.box.Post(labels)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	fmt.Fprintln(c.out, "> Which one would you like?")
	for i, l := range labels {
		fmt.Fprintf(c.out, "  %d. %s\n", i+1, l)
	}
	fmt.Fprint(c.out, "? ")
	c.mu.Unlock()
	c.feedOnce.Do(func() { go c.feed() })

	select {
	case answer := <-ticket.reply:
		return answer, nil
	case <-c.done:
		// the last line may have answered right before the input ended
		select {
		case answer := <-ticket.reply:
			return answer, nil
		default:
		}
		c.box.release(ticket)
		return "", c.inErr
	case <-ctx.Done():
		c.box.release(ticket)
		return "", ctx.Err()
	}
}

// feed forwards input lines to the mailbox. Lines typed while nothing is
// outstanding are dropped.
func (c *Console) feed() {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		_ = c.box.Resolve(strings.TrimSpace(sc.Text()))
	}
	err := sc.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	c.inErr = fmt.Errorf("terminal input closed: %w", err)
	close(c.done)
}

// Extension maps a screenshot MIME type to a file extension.
func Extension(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "text/html":
		return ".html"
	default:
		return ".bin"
	}
}
