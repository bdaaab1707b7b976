package templates

import _ "embed"

var (
	//go:embed resource/start.txt
	Start string
	//go:embed resource/help.txt
	Help string
	//go:embed resource/settings.txt
	Settings string
	//go:embed resource/back.txt
	Back string
	//go:embed resource/cancel.txt
	Cancel string
	//go:embed resource/apiError.txt
	APIError string
	//go:embed resource/chatUnknown.txt
	ChatUnknown string
	//go:embed resource/addToChatButton.txt
	AddToChatButton string
)
