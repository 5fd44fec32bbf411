package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// parseGrammar parses the line-oriented `server { location <prefix> { ... }
// }` grammar (spec section 6) into a Config. All statements end in ';'
// except block openers ('{') and closers ('}'), matching spec's informative
// grammar description verbatim.
func parseGrammar(input []byte) (*Config, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	d := newDispenser(toks)
	cfg := &Config{}

	for d.Next() {
		if d.Val() != "server" {
			return nil, d.errf("expected 'server', got %q", d.Val())
		}
		srv, err := parseServerBlock(d)
		if err != nil {
			return nil, err
		}
		cfg.Servers = append(cfg.Servers, srv)
	}
	return cfg, nil
}

func expect(d *dispenser, text string) error {
	if !d.Next() || d.Val() != text {
		return d.errf("expected %q, got %q", text, d.Val())
	}
	return nil
}

func parseServerBlock(d *dispenser) (*Server, error) {
	if err := expect(d, "{"); err != nil {
		return nil, err
	}
	srv := &Server{
		ErrorPages: map[int]string{},
		Locations:  map[string]*Location{},
	}
	for d.Next() {
		switch d.Val() {
		case "}":
			return srv, nil
		case "listen":
			if !d.NextArg() {
				return nil, d.errf("listen requires a port argument")
			}
			port, err := strconv.Atoi(d.Val())
			if err != nil {
				return nil, d.errf("invalid listen port %q: %v", d.Val(), err)
			}
			srv.Port = port
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "host":
			if !d.NextArg() {
				return nil, d.errf("host requires an argument")
			}
			srv.Host = d.Val()
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "root":
			if !d.NextArg() {
				return nil, d.errf("root requires an argument")
			}
			srv.Root = d.Val()
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "error_page":
			code, path, err := parseErrorPage(d)
			if err != nil {
				return nil, err
			}
			srv.ErrorPages[code] = path
		case "location":
			if !d.NextArg() {
				return nil, d.errf("location requires a prefix argument")
			}
			prefix := d.Val()
			loc, err := parseLocationBlock(d)
			if err != nil {
				return nil, err
			}
			srv.Locations[prefix] = loc
		default:
			return nil, d.errf("unrecognized server directive %q", d.Val())
		}
	}
	return nil, d.errf("unexpected EOF in server block")
}

func parseErrorPage(d *dispenser) (int, string, error) {
	if !d.NextArg() {
		return 0, "", d.errf("error_page requires a status code")
	}
	code, err := strconv.Atoi(d.Val())
	if err != nil {
		return 0, "", d.errf("invalid error_page status %q: %v", d.Val(), err)
	}
	if !d.NextArg() {
		return 0, "", d.errf("error_page requires a path")
	}
	path := d.Val()
	if err := expectSemicolon(d); err != nil {
		return 0, "", err
	}
	return code, path, nil
}

func parseLocationBlock(d *dispenser) (*Location, error) {
	if err := expect(d, "{"); err != nil {
		return nil, err
	}
	loc := &Location{Redirects: map[int]string{}, ErrorPages: map[int]string{}}
	for d.Next() {
		switch d.Val() {
		case "}":
			return loc, nil
		case "root":
			if !d.NextArg() {
				return nil, d.errf("root requires an argument")
			}
			loc.Root = d.Val()
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "index":
			if !d.NextArg() {
				return nil, d.errf("index requires an argument")
			}
			loc.Index = d.Val()
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "autoindex":
			if !d.NextArg() {
				return nil, d.errf("autoindex requires on|off")
			}
			loc.Autoindex = d.Val() == "on"
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "upload_path":
			if !d.NextArg() {
				return nil, d.errf("upload_path requires an argument")
			}
			loc.UploadPath = d.Val()
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "cgi_path":
			if !d.NextArg() {
				return nil, d.errf("cgi_path requires an argument")
			}
			loc.CGIInterpreter = d.Val()
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "fastcgi_pass":
			if !d.NextArg() {
				return nil, d.errf("fastcgi_pass requires an address")
			}
			loc.FastCGIPass = d.Val()
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "max_body_size":
			if !d.NextArg() {
				return nil, d.errf("max_body_size requires a size")
			}
			size, err := strconv.ParseInt(d.Val(), 10, 64)
			if err != nil {
				return nil, d.errf("invalid max_body_size %q: %v", d.Val(), err)
			}
			loc.MaxBodySize = size
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "return":
			if !d.NextArg() {
				return nil, d.errf("return requires a status code")
			}
			code, err := strconv.Atoi(d.Val())
			if err != nil {
				return nil, d.errf("invalid return status %q: %v", d.Val(), err)
			}
			if !d.NextArg() {
				return nil, d.errf("return requires a target")
			}
			loc.Redirects[code] = d.Val()
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		case "error_page":
			code, path, err := parseErrorPage(d)
			if err != nil {
				return nil, err
			}
			loc.ErrorPages[code] = path
		case "method":
			for d.NextArg() {
				loc.MethodList = append(loc.MethodList, d.Val())
			}
			if err := expectSemicolon(d); err != nil {
				return nil, err
			}
		default:
			return nil, d.errf("unrecognized location directive %q", d.Val())
		}
	}
	return nil, d.errf("unexpected EOF in location block")
}

// expectSemicolon consumes the ';' statement terminator required by every
// directive per spec section 6.
func expectSemicolon(d *dispenser) error {
	if !d.Next() || d.Val() != ";" {
		return d.errf("expected ';' to terminate statement, got %q", d.Val())
	}
	return nil
}

// LoadFile reads path and parses it as either the line-oriented grammar
// or, when path ends in .yaml/.yml, as YAML (the domain-stack alternative
// front-end described in SPEC_FULL.md section 4.8). Both front-ends
// produce the same Config shape and both are validated identically.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg *Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		cfg, err = parseYAML(data)
	} else {
		cfg, err = parseGrammar(data)
	}
	if err != nil {
		return nil, err
	}

	cfg.finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is the default configuration path per spec section 6's CLI
// description: `program [config_path]`; default `./conf/config.conf`.
const DefaultPath = "./conf/config.conf"
