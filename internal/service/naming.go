package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// DefaultServerNamePattern is used when the order config carries none.
const DefaultServerNamePattern = "{{ product.title }} - {{ client.first_name }} {{ client.last_name }}"

// GenerateUsername derives a panel username from an email address: the
// local part stripped to alphanumerics, at most 20 characters, lowercased.
// A time-based placeholder is used when nothing survives the stripping.
func GenerateUsername(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}

	var b strings.Builder
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	username := b.String()
	if len(username) > 20 {
		username = username[:20]
	}
	if username == "" {
		username = "user" + strconv.FormatInt(time.Now().Unix(), 10)
	}

	return strings.ToLower(username)
}

// RenderServerName substitutes the display-name template tokens.
func RenderServerName(pattern string, client *models.Client, serviceID int64, orderTitle string, now time.Time) string {
	replacer := strings.NewReplacer(
		"{{ client.id }}", strconv.FormatInt(client.ID, 10),
		"{{ client.first_name }}", client.FirstName,
		"{{ client.last_name }}", client.LastName,
		"{{ service.id }}", strconv.FormatInt(serviceID, 10),
		"{{ product.title }}", orderTitle,
		"{{ date }}", now.Format("2006-01-02"),
	)
	return replacer.Replace(pattern)
}

// RandomHex returns a hex string of the given length, for generated
// passwords and secrets.
func RandomHex(length int) string {
	buf := make([]byte, length/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
