package server

import (
	"strings"

	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/update"
)

const clientTemplate = `(function () {
  var hmr = window.GLOBAL = window.GLOBAL || {};
  hmr.css = function (href) {
    var base = href.split("?")[0];
    return new Promise(function (resolve, reject) {
      var link = document.createElement("link");
      link.rel = "stylesheet";
      link.href = href;
      link.onload = function () {
        document.querySelectorAll('link[rel="stylesheet"]').forEach(function (old) {
          if (old !== link && old.href.split("?")[0].endsWith(base)) old.remove();
        });
        resolve();
      };
      link.onerror = reject;
      document.head.appendChild(link);
    });
  };
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var socket = new WebSocket(scheme + location.host + PATH);
  var queue = Promise.resolve();
  socket.onmessage = function (event) {
    var payload = JSON.parse(event.data);
    queue = queue.then(function () {
      return Promise.resolve((0, eval)(payload.immutableResources || "undefined")).then(function () {
        return (0, eval)(payload.mutableResources || "undefined");
      });
    }).then(function () {
      if (payload.updated.length) console.debug("[farm] updated", payload.updated.join(", "));
    }, function (err) {
      console.error("[farm] update failed, reloading", err);
      location.reload();
    });
  };
  socket.onclose = function () {
    console.debug("[farm] lost connection to the dev server");
  };
})();
`

// ClientScript is inlined into every html entry. It connects to the HMR
// endpoint, evaluates the resource expressions of each update in order and
// installs the loader those expressions call.
func ClientScript(hmrPath string) string {
	return strings.NewReplacer(
		"GLOBAL", update.ClientGlobal,
		"PATH", helpers.QuoteForJS(hmrPath),
	).Replace(clientTemplate)
}
