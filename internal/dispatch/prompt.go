package dispatch

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"athena/internal/action"
)

const intentTemplate = `
You are Athena, a local voice assistant that interprets user commands and returns structured JSON instructions.

Convert the natural language command into exactly one of these actions:

{{- range .Actions}}
- "{{.Name}}"{{if .Params}}, params: {{.Params}}{{end}}
{{- end}}

You must respond with ONLY a single JSON object in this format:

{
  "action": "<one of the actions above or unclear_command>",
  "params": { "<name>": "<string value>" }
}

All param values are strings. Omit params an action does not take.
Colours for monitor_backlight_color are plain English names such as "red", "light blue" or "warm white".

If the command is vague, confusing, or does not clearly match a supported action, return:

{
  "action": "unclear_command",
  "params": {}
}

DO NOT include any explanation, apology, greeting, markdown or extra text.
Your entire response must be valid, parseable JSON.

User command: {{.Command}}
`

const ackTemplate = `
You are Athena, a friendly local voice assistant.
The user said: "{{.Command}}"
You are about to perform the action "{{.Action}}".
The current local time is {{.Time}}.

Reply with one short, natural spoken acknowledgement of at most twelve words.
No quotes, no emoji, no markdown. Do not ask questions.
`

var actionParams = map[action.ID]string{
	action.MonitorBacklightColor: `{ "color_name": "<colour>" }`,
	action.TurnOnLights:          `{ "location": "<room>" }`,
	action.TurnOffLights:         `{ "location": "<room>" }`,
	action.RunScript:             `{ "name": "<script name>" }`,
}

var (
	intentTmpl = template.Must(template.New("intent").Parse(intentTemplate))
	ackTmpl    = template.Must(template.New("ack").Parse(ackTemplate))
)

type promptAction struct {
	Name   action.ID
	Params string
}

func intentPrompt(command string) string {
	actions := make([]promptAction, 0, len(action.All))
	for _, id := range action.All {
		actions = append(actions, promptAction{Name: id, Params: actionParams[id]})
	}

	var buf bytes.Buffer
	_ = intentTmpl.Execute(&buf, struct {
		Actions []promptAction
		Command string
	}{actions, command})
	return strings.TrimSpace(buf.String())
}

func ackPrompt(command string, id action.ID, now time.Time) string {
	var buf bytes.Buffer
	_ = ackTmpl.Execute(&buf, struct {
		Command string
		Action  action.ID
		Time    string
	}{command, id, now.Format("3:04 PM")})
	return strings.TrimSpace(buf.String())
}

// cleanAck strips what small models like to wrap a one-liner in.
func cleanAck(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}
