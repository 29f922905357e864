package web

import "html/template"

// pageData feeds indexTmpl. Status is empty on a plain GET.
type pageData struct {
	Token     string
	Status    string
	IsError   bool
	Submitted string
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Relay</title>
    <style>
        body {
            font-family: Arial, sans-serif;
            margin: 20px;
        }
        form {
            width: 80%;
            margin: 0 auto 20px;
        }
        textarea {
            width: 100%;
            height: 240px;
        }
        .status {
            width: 80%;
            margin: 0 auto 20px;
            color: #2e7d32;
        }
        .status.error {
            color: #c62828;
        }
    </style>
</head>
<body>
    {{if .Status}}<p class="status{{if .IsError}} error{{end}}">{{.Status}}</p>{{end}}
    <form action="/submit" method="post">
        <label for="text">Message:</label><br>
        <textarea id="text" name="text">{{.Submitted}}</textarea><br>
        <input type="hidden" name="csrf_token" value="{{.Token}}">
        <input type="submit" value="Send">
    </form>
    <form action="/links" method="post">
        <input type="hidden" name="csrf_token" value="{{.Token}}">
        <input type="submit" value="Send market links">
    </form>
</body>
</html>
`))
