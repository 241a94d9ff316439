package chat

import (
	"strings"
	"text/template"
)

type promptData struct {
	Query   string
	Context string
	History []string
}

var chatPrompt = template.Must(template.New("chat").Parse(`Answer the user's question based on the provided document context. If the answer isn't in the context, use your general knowledge but mention it's not in the document.
{{if .History}}
CONVERSATION SO FAR:
{{range .History}}{{.}}
{{end}}{{end}}
DOCUMENT CONTEXT (may be incomplete):
{{.Context}}

USER QUESTION:
{{.Query}}

ANSWER:`))

var editorPrompt = template.Must(template.New("editor").Parse(`You are a helpful AI assistant.

USER QUESTION:
{{.Query}}

RETRIEVED CONTEXT (may be incomplete):
{{.Context}}

TASK:
Use the retrieved context as the primary source to answer the question.
If the context is unclear, incomplete, or empty, use your general knowledge to provide a helpful and reasonable explanation.

STYLE GUIDELINES:
- Explain in simple, short and easy-to-understand language.
- Be clear, structured, and beginner-friendly.
- Do not mention "context" or "retrieved data" in the answer.
- Focus on giving value, not disclaimers.

OUTPUT FORMAT (HTML ONLY):
<h2>Answer</h2>
<p>Main explanation here.</p>
<h3>Key Points</h3>
<ul>
  <li>Important point</li>
  <li>Another helpful point</li>
</ul>
`))

func render(t *template.Template, data promptData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func ChatPrompt(query, context string, history []string) (string, error) {
	return render(chatPrompt, promptData{Query: query, Context: context, History: history})
}

func EditorPrompt(query, context string) (string, error) {
	return render(editorPrompt, promptData{Query: query, Context: context})
}
