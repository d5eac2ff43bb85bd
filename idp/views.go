package idp

import (
	"html/template"
	"net/http"
	"strings"
)

var consentTmpl = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize {{.ClientID}}</title></head>
<body>
<h1>Authorize application</h1>
<p><strong>{{.ClientID}}</strong> is asking to sign you in as <strong>{{.UserName}}</strong> with access to:</p>
<ul>
{{range .Scopes}}<li>{{.}}</li>
{{end}}</ul>
<form method="post" action="/oauth/authorize">
<input type="hidden" name="response_type" value="code">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="scope" value="{{.Scope}}">
<input type="hidden" name="state" value="{{.State}}">
<input type="hidden" name="nonce" value="{{.Nonce}}">
<input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
<input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
<button type="submit" name="action" value="approve">Approve</button>
<button type="submit" name="action" value="deny">Deny</button>
</form>
</body>
</html>
`))

var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p>{{.Error}}</p>
{{end}}<form method="post" action="/login">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<label>Username <input type="text" name="username" autofocus></label><br>
<label>Password <input type="password" name="password"></label><br>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

func (a *App) renderConsent(w http.ResponseWriter, req *AuthorizeRequest, user *User) {
	data := struct {
		ClientID            string
		UserName            string
		RedirectURI         string
		Scope               string
		Scopes              []string
		State               string
		Nonce               string
		CodeChallenge       string
		CodeChallengeMethod string
	}{
		ClientID:            req.Client.ClientID,
		UserName:            user.Name,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Scopes:              strings.Fields(req.Scope),
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consentTmpl.Execute(w, data); err != nil {
		a.Logger.Error("render consent", "error", err)
	}
}

func (a *App) renderLogin(w http.ResponseWriter, returnTo, errMsg string) {
	data := struct {
		ReturnTo string
		Error    string
	}{ReturnTo: returnTo, Error: errMsg}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTmpl.Execute(w, data); err != nil {
		a.Logger.Error("render login", "error", err)
	}
}
