package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"studypal_go_backend/internal/services"
)

func TestBuildSupportEmail(t *testing.T) {
	body := services.BuildSupportEmail(
		"noreply@studypal.app",
		"support@studypal.app",
		"Ada",
		"ada@example.com",
		"Can't upload photos",
		"The camera button does nothing on my phone.",
	)

	assert.Contains(t, body, "To: support@studypal.app\r\n")
	assert.Contains(t, body, "Reply-To: Ada <ada@example.com>\r\n")
	assert.Contains(t, body, "Subject: [StudyPal] Can't upload photos\r\n")
	assert.Contains(t, body, "Support request from Ada (ada@example.com)")
	assert.Contains(t, body, "The camera button does nothing on my phone.")

	// Headers and body are separated by a blank line.
	assert.Contains(t, body, "\r\n\r\n")
}
