package classifier

import "strings"

const systemPrompt = `
You are an assistant that reads a plain-text email and returns EXACTLY one JSON object (no extra text).
The JSON must match the schema below (keys must exist; set values to null if not applicable).

Schema:
{
  "category": "interview" | "meeting" | "important_email" | "not_important" | "other",
  "confidence": 0.0-1.0,
  "summary": "<one-line summary>",
  "action": "reply" | "archive" | "label_only" | "no_action",
  "reply_template": {
     "should_reply": true|false,
     "subject": "<subject for reply>",
     "body": "<body text for reply (plain text)>"
  },
  "metadata": {
     "calendar_event": {
         "summary": "<event summary|null>",
         "start": "<ISO8601 datetime|null>",
         "end": "<ISO8601 datetime|null>",
         "location": "<text|null>",
         "description": "<event description|null>"
     }
  }
}
Return only the JSON (no markdown, no explanation).
`

const userPromptTemplate = `
Email Subject:
{subject}

From:
{from}

Body:
{body}

Instructions:
1) Classify the email and extract structured fields per the JSON schema.
2) If the email is a confirmed interview or meeting, extract the event details (summary, start, end, location) from the body. Parse dates and times to ISO8601 format (e.g., 2025-09-18T10:00:00+05:30 for IST). Assume timezone is {timezone} if not specified. Set category to "interview" or "meeting" and reply_template.should_reply to true. Provide a concise, polite confirmation reply.
3) If the email is important but not a meeting (e.g., a formal notice), set category to "important_email" and action to "no_action".
4) If the email is not important (e.g., a newsletter, promotion), set category to "not_important", action to "archive", and reply_template.should_reply to true. Provide a concise, polite automatic reply.
5) If you are not confident, set confidence appropriately and prefer safe actions.
6) Do not include any extra keys beyond the schema. Output JSON only.
{signature}
Now analyze the email.
`

func userPrompt(subject, from, body, timezone, signature string) string {
	sig := ""
	if signature != "" {
		sig = "7) End replies with a sign-off from " + signature + "."
	}
	return strings.NewReplacer(
		"{subject}", subject,
		"{from}", from,
		"{body}", body,
		"{timezone}", timezone,
		"{signature}", sig,
	).Replace(userPromptTemplate)
}
