package mailcode

import (
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"
)

// emailFromRaw parses one raw RFC822 message into an Email. Used by the
// IMAP variant, whose body section arrives as the full undecoded message;
// headers must never leak into Body, or the code parser would pick digit
// runs out of Date and Received lines.
func emailFromRaw(id uint32, r io.Reader) (Email, error) {
	ent, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return Email{}, err
	}
	return emailFromEntity(id, ent)
}

// emailFromEntity flattens a parsed MIME message into an Email. The
// entity reader decodes transfer encodings (base64, quoted-printable);
// multipart messages contribute their text parts only.
func emailFromEntity(id uint32, m *message.Entity) (Email, error) {
	em := Email{ID: id}
	em.Subject = m.Header.Get("Subject")
	if from := m.Header.Get("From"); from != "" {
		if a, err := mail.ParseAddress(from); err == nil {
			em.From = a.Address
		} else {
			em.From = from
		}
	}
	if date := m.Header.Get("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			em.Received = t
		}
	}

	if mr := m.MultipartReader(); mr != nil {
		var sb strings.Builder
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return Email{}, err
			}
			ct := strings.ToLower(part.Header.Get("Content-Type"))
			if ct == "" || strings.HasPrefix(ct, "text/") {
				b, err := io.ReadAll(part.Body)
				if err != nil {
					return Email{}, err
				}
				sb.Write(b)
				sb.WriteByte('\n')
			}
		}
		em.Body = sb.String()
	} else {
		b, err := io.ReadAll(m.Body)
		if err != nil {
			return Email{}, err
		}
		em.Body = string(b)
	}
	return em, nil
}
