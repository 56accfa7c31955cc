package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>loudthoughts buffer</title>
  <style>
    :root {
      --ink: #1b1d2a;
      --paper: #f6f3ee;
      --card: #fffdfa;
      --line: #dcd3c4;
      --accent: #5b5bd6;
      --danger: #c2483f;
      --muted: #6f7080;
      --shadow: 0 14px 30px rgba(27, 29, 42, 0.12);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: linear-gradient(150deg, #fbf8f2 0%, #eef0fb 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 960px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .bar, .note {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 14px 16px;
      box-shadow: var(--shadow);
    }

    h1 { margin: 0; font-size: 1.4rem; }

    .sub { margin-top: 6px; color: var(--muted); font-size: 0.9rem; }

    .controls {
      display: grid;
      gap: 10px;
      grid-template-columns: 1fr auto auto;
      margin-top: 12px;
    }

    input {
      width: 100%;
      border-radius: 10px;
      border: 1px solid var(--line);
      padding: 10px 12px;
      font-size: 0.92rem;
    }

    button {
      border: 0;
      border-radius: 10px;
      padding: 9px 12px;
      font-family: inherit;
      font-weight: 700;
      cursor: pointer;
    }

    .btn-primary { background: var(--accent); color: #ffffff; }
    .btn-danger { background: var(--danger); color: #ffffff; }

    .note header {
      display: flex;
      justify-content: space-between;
      align-items: baseline;
      gap: 10px;
    }

    .note h2 { margin: 0; font-size: 1rem; }
    .meta { color: var(--muted); font-size: 0.78rem; margin-top: 4px; }
    .content { white-space: pre-wrap; font-size: 0.88rem; margin-top: 8px; }
    .status { font-size: 0.82rem; color: var(--muted); }
    .status.err { color: var(--danger); }
    .empty { text-align: center; color: var(--muted); padding: 30px; }
  </style>
</head>
<body>
  <div class="shell">
    <section class="bar">
      <h1>Buffer</h1>
      <div class="sub">Notes waiting for your vault. Clearing a note removes it without syncing it.</div>
      <div class="controls">
        <input id="token" type="password" placeholder="bearer token" autocomplete="off" />
        <button id="connect" class="btn-primary">Connect</button>
        <button id="clearAll" class="btn-danger">Clear all</button>
      </div>
      <div id="status" class="status">enter token to start</div>
    </section>
    <section id="notes"></section>
  </div>

  <script>
    (function () {
      const dom = {
        token: document.getElementById("token"),
        connect: document.getElementById("connect"),
        clearAll: document.getElementById("clearAll"),
        status: document.getElementById("status"),
        notes: document.getElementById("notes"),
      };
      let socket = null;
      let entries = [];

      function setStatus(text, isError) {
        dom.status.textContent = text;
        dom.status.className = isError ? "status err" : "status";
      }

      function uniqueIDs() {
        const seen = new Set();
        entries.forEach(function (entry) { seen.add(entry.data.id); });
        return Array.from(seen);
      }

      function render() {
        dom.notes.innerHTML = "";
        if (entries.length === 0) {
          const empty = document.createElement("div");
          empty.className = "empty";
          empty.textContent = "buffer is empty";
          dom.notes.appendChild(empty);
          return;
        }
        entries.forEach(function (entry) {
          const card = document.createElement("article");
          card.className = "note";
          const header = document.createElement("header");
          const title = document.createElement("h2");
          title.textContent = entry.data.title || "(untitled)";
          const clear = document.createElement("button");
          clear.className = "btn-danger";
          clear.textContent = "Clear";
          clear.addEventListener("click", function () { consume(entry.data.id); });
          header.appendChild(title);
          header.appendChild(clear);
          const meta = document.createElement("div");
          meta.className = "meta";
          meta.textContent = entry.data.platform + " | " + entry.data.id + " | expires " + entry.exp;
          const content = document.createElement("div");
          content.className = "content";
          content.textContent = entry.data.content;
          card.appendChild(header);
          card.appendChild(meta);
          card.appendChild(content);
          dom.notes.appendChild(card);
        });
      }

      async function consume(id) {
        const response = await fetch("/v1/buffer/consume", {
          method: "POST",
          headers: {
            "Authorization": "Bearer " + dom.token.value.trim(),
            "Content-Type": "application/json",
            "X-Correlation-Id": "dash_" + Date.now(),
          },
          body: JSON.stringify({ id: id }),
        });
        if (!response.ok) {
          const payload = await response.json().catch(function () { return {}; });
          setStatus("clear failed: " + (payload.message || response.status), true);
        }
      }

      function connect() {
        const token = dom.token.value.trim();
        if (!token) {
          setStatus("enter token to start", true);
          return;
        }
        window.localStorage.setItem("loudthoughts_dashboard_token", token);
        if (socket) {
          socket.close();
        }
        const scheme = window.location.protocol === "https:" ? "wss://" : "ws://";
        socket = new WebSocket(scheme + window.location.host + "/v1/buffer/feed?access_token=" + encodeURIComponent(token));
        socket.onopen = function () { setStatus("live", false); };
        socket.onmessage = function (event) {
          entries = JSON.parse(event.data).entries || [];
          render();
        };
        socket.onclose = function () { setStatus("disconnected", true); };
      }

      dom.connect.addEventListener("click", connect);
      dom.clearAll.addEventListener("click", async function () {
        for (const id of uniqueIDs()) {
          await consume(id);
        }
      });

      dom.token.value = window.localStorage.getItem("loudthoughts_dashboard_token") || "";
      if (dom.token.value) {
        connect();
      }
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
