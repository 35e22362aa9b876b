package schemarev

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
)

var scriptTmplStr = `-- {{.Message}}
--
-- Revision ID: {{.ID}}
-- Revises: {{.Down}}
-- Create Date: {{.Created}}

local op = require "op"

revision = {{quote .ID}}
down_revision = {{if .Down}}{{quote .Down}}{{else}}nil{{end}}
branch_labels = nil
depends_on = nil
message = {{quote .Message}}

function upgrade()
    error("upgrade not implemented")
end

function downgrade()
    error("downgrade not implemented")
end
`

var scriptTmpl = template.Must(template.New("revision").Funcs(template.FuncMap{
	"quote": luaQuote,
}).Parse(scriptTmplStr))

func luaQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}

// NewRevisionID returns 12 random hex characters.
func NewRevisionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[len(id)-12:]
}

func GenScript(id, down, message string, created time.Time) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	if message == "" {
		message = "empty message"
	}

	var buf bytes.Buffer
	if err := scriptTmpl.Execute(&buf, struct {
		ID      string
		Down    string
		Message string
		Created string
	}{id, down, message, created.Format("2006-01-02 15:04:05.000000")}); err != nil {
		return "", err
	}

	return buf.String(), nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// ScriptFilename returns "<id>_<slug>.lua", the slug derived from message.
func ScriptFilename(id, message string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(message), "_"), "_")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "_")
	}
	if slug == "" {
		return id + "_.lua"
	}
	return fmt.Sprintf("%s_%s.lua", id, slug)
}

// WriteScript writes a new revision script revising down into dir.
func WriteScript(dir, down, message string) (id string, outpath string, err error) {
	id = NewRevisionID()
	script, err := GenScript(id, down, message, time.Now())
	if err != nil {
		return "", "", err
	}
	outpath = filepath.Join(dir, ScriptFilename(id, message))
	if err := os.WriteFile(outpath, []byte(script), 0644); err != nil {
		return "", "", err
	}
	return id, outpath, nil
}
