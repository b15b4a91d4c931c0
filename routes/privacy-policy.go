package routes

import (
	"fmt"
	"net/http"
)

// PrivacyPolicyHandler serves the privacy policy the app stores link to
func PrivacyPolicyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>Privacy Policy</title>
</head>
<body>
	<h1>Privacy Policy</h1>
	<p>Tennismatch stores your profile, your swipe decisions and the messages you exchange with your matches.</p>
	<p>Decisions are only used to find mutual matches. Messages are only visible to the two players of a conversation.</p>
	<p>Profile photos are served through short-lived links.</p>
</body>
</html>
`
	fmt.Fprint(w, html)
}
