package gateway

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// multipartForm accumulates fields and keeps the first write error.
type multipartForm struct {
	buffer *bytes.Buffer
	writer *multipart.Writer
	err    error
}

func newMultipartForm() *multipartForm {
	buffer := &bytes.Buffer{}
	return &multipartForm{buffer: buffer, writer: multipart.NewWriter(buffer)}
}

func (form *multipartForm) addField(name string, value string) {
	if form.err != nil {
		return
	}
	form.err = form.writer.WriteField(name, value)
}

func (form *multipartForm) addFile(name string, evidence ticketing.CapturedEvidence) {
	if form.err != nil {
		return
	}
	if evidence.IsZero() {
		form.err = fmt.Errorf("%w: %s is empty", ticketing.ErrInvalidEvidence, name)
		return
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(name), escapeQuotes(evidence.Filename())))
	header.Set("Content-Type", evidence.ContentType())
	part, err := form.writer.CreatePart(header)
	if err != nil {
		form.err = err
		return
	}
	_, form.err = part.Write(evidence.Data())
}

func (form *multipartForm) finish() (string, io.Reader, error) {
	if form.err != nil {
		return "", nil, fmt.Errorf("encode multipart body: %w", form.err)
	}
	if err := form.writer.Close(); err != nil {
		return "", nil, fmt.Errorf("encode multipart body: %w", err)
	}
	return form.writer.FormDataContentType(), form.buffer, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(value string) string {
	return quoteEscaper.Replace(value)
}
