package capture

import (
	"html/template"
	"log/slog"
	"net/http"
)

// pageTemplate is the browser half of BrowserCapture. It keeps a
// MediaRecorder open and answers the control protocol on the socket.
var pageTemplate = template.Must(template.New("capture").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>nextgen-voice capture</title></head>
<body>
<p id="status">connecting...</p>
<script>
const status = document.getElementById("status");
const proto = location.protocol === "https:" ? "wss://" : "ws://";
let ws, stream, rec;

function send(msg) { ws.send(JSON.stringify(msg)); }

function connect() {
  ws = new WebSocket(proto + location.host + {{.SocketPath}});
  ws.binaryType = "arraybuffer";
  ws.onopen = () => { status.textContent = "connected"; };
  ws.onclose = () => { status.textContent = "disconnected"; setTimeout(connect, 1000); };
  ws.onmessage = async (ev) => {
    const msg = JSON.parse(ev.data);
    try {
      if (msg.type === "start") {
        stream = await navigator.mediaDevices.getUserMedia({ audio: true });
        rec = new MediaRecorder(stream);
        rec.ondataavailable = (e) => { if (e.data.size > 0) e.data.arrayBuffer().then((b) => ws.send(b)); };
        rec.start(250);
        send({ type: "granted", mime_type: rec.mimeType });
        status.textContent = "recording";
      } else if (msg.type === "resume" && rec) {
        rec.resume();
        send({ type: "granted", mime_type: rec.mimeType });
        status.textContent = "recording";
      } else if (msg.type === "pause" && rec) {
        rec.requestData();
        rec.pause();
        setTimeout(() => send({ type: "paused" }), 100);
        status.textContent = "paused";
      } else if (msg.type === "stop" && rec) {
        rec.onstop = () => {
          stream.getTracks().forEach((t) => t.stop());
          setTimeout(() => send({ type: "stopped" }), 100);
        };
        rec.stop();
        status.textContent = "stopped";
      }
    } catch (err) {
      send({ type: "denied", reason: String(err) });
      status.textContent = "denied: " + err;
    }
  };
}
connect();
</script>
</body>
</html>
`))

// PageHandler serves the capture page that connects back to socketPath
func PageHandler(socketPath string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplate.Execute(w, struct{ SocketPath string }{socketPath}); err != nil {
			logger.Warn("Failed to render capture page", slog.String("error", err.Error()))
		}
	})
}
