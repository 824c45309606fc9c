package panel

// indexHTML is the panel page. It talks to the JSON routes and the /ws
// event stream and has no build step.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>espctl</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 2em auto; }
section { border: 1px solid #ccc; border-radius: 6px; padding: 1em; margin-bottom: 1em; }
.on { color: #43BF6D; } .off { color: #626262; } .err { color: #FF5555; }
</style>
</head>
<body>
<h1>espctl</h1>
<section>
  <div>Device: <code id="endpoint">?</code></div>
  <button id="scan">Scan subnet</button> <span id="scan-result"></span>
</section>
<section>
  <div>LED 1: <span id="led-1">?</span> <button data-led="1">Toggle</button></div>
  <div>LED 2: <span id="led-2">?</span> <button data-led="2">Toggle</button></div>
</section>
<section>
  <form id="ota">
    <input type="file" name="file" accept=".bin">
    <button type="submit">Update firmware</button>
  </form>
  <progress id="ota-progress" max="1" value="0"></progress>
  <div id="ota-message"></div>
  <div>Firmware: <span id="firmware">unknown</span></div>
</section>
<script>
const $ = (id) => document.getElementById(id);

async function led(id, toggle) {
  const res = await fetch('/api/leds/' + id + (toggle ? '/toggle' : ''), {method: toggle ? 'POST' : 'GET'});
  const body = await res.json();
  const el = $('led-' + id);
  el.textContent = res.ok ? body.state : body.error;
  el.className = res.ok ? body.state : 'err';
}

function showOTA(st) {
  if (st.bytes_total > 0) { $('ota-progress').value = st.bytes_sent / st.bytes_total; }
  let msg = '';
  if (st.phase === 'counting' && st.seconds_remaining !== null) {
    msg = 'OTA Firmware Update Complete. Rebooting in: ' + st.seconds_remaining;
  } else if (st.phase === 'failed') {
    msg = st.device_status === -1 ? '!!! Upload Error !!!' : 'Upload failed: ' + st.error;
  } else if (st.last_poll_error) {
    msg = 'Status poll failed: ' + st.last_poll_error;
  }
  $('ota-message').textContent = msg;
  if (st.firmware && st.firmware.compile_date) {
    $('firmware').textContent = st.firmware.compile_date + ' - ' + st.firmware.compile_time;
  }
}

document.querySelectorAll('button[data-led]').forEach((b) => {
  b.onclick = () => led(b.dataset.led, true);
});

$('scan').onclick = async () => {
  $('scan-result').textContent = 'scanning...';
  const res = await fetch('/api/scan', {method: 'POST'});
  const body = await res.json();
  $('scan-result').textContent = res.ok ? (body.found ? 'found ' + body.address : 'no device found') : body.error;
};

$('ota').onsubmit = async (e) => {
  e.preventDefault();
  const res = await fetch('/api/ota', {method: 'POST', body: new FormData(e.target)});
  if (!res.ok) { $('ota-message').textContent = (await res.json()).error; }
};

const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
ws.onmessage = (e) => {
  const m = JSON.parse(e.data);
  if (m.type === 'hello') { $('endpoint').textContent = m.data.endpoint; showOTA(m.data.ota); }
  if (m.type === 'endpoint') { $('endpoint').textContent = m.data.endpoint; }
  if (m.type === 'ota') { showOTA(m.data.state); }
};

setInterval(() => { led(1, false); led(2, false); }, 1000);
</script>
</body>
</html>
`
