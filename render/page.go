package render

import "html/template"

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>{{.Style}}</style>
</head>
<body>
{{- if or .Meta.URL .Meta.Template .GeneratedAt}}
    <div class="metadata">
        <h3>Overview</h3>
        {{- if .Meta.URL}}
        <p><strong>Source:</strong> <a href="{{.Meta.URL}}" target="_blank" rel="noopener">{{.Meta.URL}}</a></p>
        {{- end}}
        {{- if .GeneratedAt}}
        <p><strong>Generated:</strong> {{.GeneratedAt}}</p>
        {{- end}}
        {{- if .Meta.Template}}
        <p><strong>Template:</strong> {{.Meta.Template}}</p>
        {{- end}}
        {{- if .Meta.Model}}
        <p><strong>Model:</strong> {{.Meta.Model}}</p>
        {{- end}}
    </div>
{{- end}}
    <div class="content">
{{.Body}}
    </div>
    <div class="stats">
        <h3>Statistics</h3>
        <span class="stat-item">Characters: {{.Stats.Characters}}</span>
        <span class="stat-item">Words: {{.Stats.Words}}</span>
        <span class="stat-item">Lines: {{.Stats.Lines}}</span>
    </div>
</body>
</html>
`))

const pageStyle = `
body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    line-height: 1.6;
    max-width: 800px;
    margin: 0 auto;
    padding: 20px;
    background-color: #f5f5f5;
}
.metadata {
    background: #e3f2fd;
    border-left: 4px solid #2196f3;
    padding: 15px;
    margin-bottom: 20px;
    border-radius: 4px;
}
.metadata h3 { margin-top: 0; color: #1976d2; }
.content {
    background: white;
    padding: 30px;
    border-radius: 8px;
    box-shadow: 0 2px 10px rgba(0,0,0,0.1);
    margin-bottom: 20px;
}
.content h1, .content h2, .content h3 {
    color: #333;
    border-bottom: 2px solid #eee;
    padding-bottom: 10px;
}
.content p { margin-bottom: 15px; }
.stats {
    background: #f1f8e9;
    border-left: 4px solid #8bc34a;
    padding: 15px;
    border-radius: 4px;
}
.stats h3 { margin-top: 0; color: #689f38; }
.stat-item {
    display: inline-block;
    background: #dcedc8;
    padding: 5px 10px;
    border-radius: 15px;
    margin-right: 10px;
    font-size: 14px;
}
a { color: #1976d2; text-decoration: none; }
a:hover { text-decoration: underline; }
`
