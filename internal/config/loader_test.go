package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleGrammar = `
server {
	listen 8080;
	host 127.0.0.1;
	root ./www;
	error_page 404 /404.html;

	location / {
		index index.html;
		method GET HEAD;
	}

	location /up/ {
		upload_path ./up;
		max_body_size 10;
		method POST;
	}

	location /cgi/ {
		cgi_path /usr/bin/php-cgi;
		method GET;
	}
}
`

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestParseGrammar(t *testing.T) {
	p := writeTemp(t, "config.conf", sampleGrammar)
	cfg, err := LoadFile(p)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)

	srv := cfg.Servers[0]
	require.Equal(t, 8080, srv.Port)
	require.Equal(t, "127.0.0.1", srv.Host)
	require.Equal(t, "./www", srv.Root)
	require.Equal(t, "/404.html", srv.ErrorPages[404])

	root := srv.Locations["/"]
	require.NotNil(t, root)
	require.Equal(t, "index.html", root.Index)
	require.True(t, root.AllowsMethod("GET"))
	require.False(t, root.AllowsMethod("POST"))

	up := srv.Locations["/up/"]
	require.NotNil(t, up)
	require.EqualValues(t, 10, up.MaxBodySize)

	cgi := srv.Locations["/cgi/"]
	require.NotNil(t, cgi)
	require.Equal(t, "/usr/bin/php-cgi", cgi.CGIInterpreter)
}

func TestParseGrammarRejectsMissingSemicolon(t *testing.T) {
	bad := `server { listen 8080 root ./www; }`
	p := writeTemp(t, "bad.conf", bad)
	_, err := LoadFile(p)
	require.Error(t, err)
}

func TestParseYAML(t *testing.T) {
	yamlDoc := `
servers:
  - host: 127.0.0.1
    port: 8080
    root: ./www
    locations:
      /:
        index: index.html
        methods: [GET, HEAD]
`
	p := writeTemp(t, "config.yaml", yamlDoc)
	cfg, err := LoadFile(p)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	require.Equal(t, 8080, cfg.Servers[0].Port)
	require.True(t, cfg.Servers[0].Locations["/"].AllowsMethod("GET"))
}

func TestValidateRejectsZeroPort(t *testing.T) {
	cfg := &Config{Servers: []*Server{{Port: 0, Root: "./www"}}}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyRoot(t *testing.T) {
	cfg := &Config{Servers: []*Server{{Port: 80, Root: ""}}}
	require.Error(t, cfg.Validate())
}

func TestMaxBodySizeZeroMeansUnlimited(t *testing.T) {
	loc := &Location{MaxBodySize: 0}
	require.EqualValues(t, 0, loc.EffectiveMaxBodySize())
}
