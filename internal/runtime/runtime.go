package runtime

// These helpers are injected into script resources that need them. Each one
// is a standalone function declaration so that only the helpers a resource
// actually uses are emitted.

import "strings"

type Helper uint8

const (
	InteropRequireDefault Helper = iota
	InteropRequireWildcard
	ExportStar
	MergeNamespaces
	CommonJs
	LoadCss

	helperCount
)

// Helpers are emitted in this order. A helper only depends on helpers that
// come before it.
var helpers = [helperCount]struct {
	name string
	deps []Helper
	code string
}{
	InteropRequireDefault: {
		name: "_interop_require_default",
		code: `function _interop_require_default(obj) {
  return obj && obj.__esModule ? obj : { default: obj };
}
`,
	},

	InteropRequireWildcard: {
		name: "_interop_require_wildcard",
		deps: []Helper{InteropRequireDefault},
		code: `function _interop_require_wildcard(obj) {
  if (obj && obj.__esModule) return obj;
  var ns = _interop_require_default(obj);
  if (obj != null && (typeof obj === "object" || typeof obj === "function")) {
    for (var key in obj) {
      if (key !== "default" && Object.prototype.hasOwnProperty.call(obj, key)) ns[key] = obj[key];
    }
  }
  return ns;
}
`,
	},

	ExportStar: {
		name: "_export_star",
		code: `function _export_star(from, to) {
  Object.keys(from).forEach(function (key) {
    if (key !== "default" && !Object.prototype.hasOwnProperty.call(to, key)) {
      Object.defineProperty(to, key, { enumerable: true, get: function () { return from[key]; } });
    }
  });
  return from;
}
`,
	},

	// Later namespaces never override a key an earlier one defined
	MergeNamespaces: {
		name: "_mergeNamespaces",
		code: `function _mergeNamespaces(n, m) {
  m.forEach(function (e) {
    if (!e || typeof e === "string" || Array.isArray(e)) return;
    Object.keys(e).forEach(function (key) {
      if (key === "default" || key in n) return;
      var d = Object.getOwnPropertyDescriptor(e, key);
      Object.defineProperty(n, key, d.get ? d : { enumerable: true, get: function () { return e[key]; } });
    });
  });
  return Object.freeze(n);
}
`,
	},

	// The factory runs once and its exports object is shared by every caller
	CommonJs: {
		name: "__commonJs",
		code: `function __commonJs(mod) {
  var module;
  return function () {
    if (module) return module.exports;
    module = { exports: {} };
    for (var id in mod) mod[id](module, module.exports);
    return module.exports;
  };
}
`,
	},

	// Resolves once the stylesheet has loaded. Only emitted for browsers.
	LoadCss: {
		name: "__loadCss",
		code: `function __loadCss(href) {
  return new Promise(function (resolve, reject) {
    if (document.querySelector('link[rel="stylesheet"][href="' + href + '"]')) return resolve();
    var link = document.createElement("link");
    link.rel = "stylesheet";
    link.href = href;
    link.onload = function () { resolve(); };
    link.onerror = reject;
    document.head.appendChild(link);
  });
}
`,
	},
}

func (h Helper) Name() string {
	return helpers[h].name
}

func (h Helper) Code() string {
	return helpers[h].code
}

// Names returns every helper name. The renamer keeps them free so user code
// never shadows a helper.
func Names() []string {
	names := make([]string, helperCount)
	for i := range helpers {
		names[i] = helpers[i].name
	}
	return names
}

// Set tracks which helpers a resource uses
type Set struct {
	used [helperCount]bool
}

// Use marks a helper and everything it depends on
func (s *Set) Use(h Helper) {
	if s.used[h] {
		return
	}
	s.used[h] = true
	for _, dep := range helpers[h].deps {
		s.Use(dep)
	}
}

func (s *Set) Has(h Helper) bool {
	return s.used[h]
}

func (s *Set) Empty() bool {
	for _, used := range s.used {
		if used {
			return false
		}
	}
	return true
}

// Code renders the used helpers in their fixed order
func (s *Set) Code() string {
	sb := strings.Builder{}
	for h := Helper(0); h < helperCount; h++ {
		if s.used[h] {
			sb.WriteString(helpers[h].code)
		}
	}
	return sb.String()
}
