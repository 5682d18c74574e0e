package llm

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an agent operating an Android phone on behalf of a user.
Each turn you get a screenshot, the user's task, your recent actions and a list of
interactive elements. Elements are numbered [N] and outlined with the same number
on the screenshot. Choose exactly ONE next action.

Actions:
- TAP_ELEMENT: tap element by number. Fields: elementId
- TAP: tap a screen coordinate. Fields: x, y
- TAP_TEXT: tap the element showing some text. Fields: text
- LONG_PRESS: press and hold a coordinate. Fields: x, y
- TYPE: type into the focused (or first) text field. Fields: text
- SCROLL: scroll content. Fields: scrollDirection (up|down|left|right)
- SWIPE: swipe the screen. Fields: scrollDirection, duration (ms, optional)
- BACK, HOME, RECENTS: system buttons
- OPEN_APP: launch an app by name. Fields: appName
- WAIT: wait for the screen to settle
- TASK_COMPLETE: the task is done. Fields: reason
- TASK_FAILED: the task cannot be done. Fields: reason

Rules:
- Prefer TAP_ELEMENT over TAP whenever the target is in the element list.
- Prefer OPEN_APP over hunting for icons on the home screen.
- Never repeat an action that just failed; try something different.
- Coordinates are screen pixels, not screenshot pixels.
- Finish with TASK_COMPLETE as soon as the goal is visibly achieved, or TASK_FAILED
  when it clearly cannot be achieved. Do not keep going once you are done.
- confidence is your honest probability (0.0 to 1.0) that this action moves the
  task forward.

Reply with JSON only, no markdown:
{"reasoning":"<what you see and why>","action":{"type":"<ACTION>","elementId":0,"x":0,"y":0,"text":"","scrollDirection":"","appName":"","reason":"","confidence":0.0,"description":"<short summary>"}}
Omit fields that do not apply to the chosen action.`

// buildUserPrompt renders the per-step prompt. The output depends only on in,
// so identical observations produce identical requests.
func buildUserPrompt(in DecisionInput, historySize int, hasImage bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "TASK: %s\n", strings.TrimSpace(in.Task))
	fmt.Fprintf(&b, "SCREEN: %dx%d pixels\n", in.ScreenWidth, in.ScreenHeight)
	if in.MaxSteps > 0 {
		fmt.Fprintf(&b, "STEP: %d of %d\n", in.Step, in.MaxSteps)
	}
	if !hasImage {
		b.WriteString("SCREENSHOT: not available, rely on the element list\n")
	}

	b.WriteString("\nRECENT ACTIONS:\n")
	history := in.History
	if historySize > 0 && len(history) > historySize {
		history = history[len(history)-historySize:]
	}
	if len(history) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, h := range history {
		b.WriteString(h)
		b.WriteByte('\n')
	}

	if len(in.Hints) > 0 {
		b.WriteString("\nUSER HINTS:\n")
		for _, h := range in.Hints {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(h))
		}
	}

	b.WriteString("\nELEMENTS:\n")
	b.WriteString(strings.TrimRight(in.Elements, "\n"))
	b.WriteString("\n\nRespond with the JSON object for your next action.")
	return b.String()
}
