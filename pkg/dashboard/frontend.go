package dashboard

import "net/http"

func (d *Dashboard) serveFrontend(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(frontendHTML))
}

const frontendHTML = `<!DOCTYPE html>
<html lang="en"><head>
<meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Combat Report</title>
<link href="https://fonts.googleapis.com/css2?family=JetBrains+Mono:wght@300;400;500;600;700&family=Space+Grotesk:wght@400;500;600;700&display=swap" rel="stylesheet">
<style>
:root{--bg:#08090d;--sf:#0f1118;--sf2:#161923;--sf3:#1e2230;--bd:#252a3a;--tx:#c8cdd8;--tx2:#8891a5;--tx3:#5a6278;--ac:#3b82f6;--gn:#10b981;--rd:#ef4444;--or:#f59e0b;--pr:#a855f7;--go:#eab308}
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:'JetBrains Mono',monospace;background:var(--bg);color:var(--tx);min-height:100vh}
.app{max-width:1440px;margin:0 auto;padding:20px 24px}
.hdr{display:flex;justify-content:space-between;align-items:center;padding:16px 0;border-bottom:1px solid var(--bd);margin-bottom:24px}
.hdr h1{font-family:'Space Grotesk',sans-serif;font-size:22px;font-weight:700;background:linear-gradient(135deg,var(--ac),var(--pr));-webkit-background-clip:text;-webkit-text-fill-color:transparent}
.nav{display:flex;gap:4px;margin-bottom:24px;background:var(--sf);border-radius:10px;padding:4px;border:1px solid var(--bd)}
.nav button{font-family:'JetBrains Mono',monospace;font-size:11px;padding:9px 18px;border:none;background:0;color:var(--tx2);cursor:pointer;border-radius:8px}
.nav button.on{background:var(--ac);color:#fff}
.sts{display:grid;grid-template-columns:repeat(auto-fit,minmax(130px,1fr));gap:12px;margin-bottom:24px}
.st{background:var(--sf);border:1px solid var(--bd);border-radius:10px;padding:15px 16px}
.st .v{font-size:24px;font-weight:700;color:var(--ac)}
.st .l{font-size:9px;color:var(--tx3);text-transform:uppercase;letter-spacing:.8px;margin-top:5px}
.pn{background:var(--sf);border:1px solid var(--bd);border-radius:12px;margin-bottom:18px;overflow:hidden}
.pn-h{padding:13px 18px;border-bottom:1px solid var(--bd);background:var(--sf2);font-family:'Space Grotesk',sans-serif;font-size:13px;font-weight:600}
table{width:100%;border-collapse:collapse}
th{text-align:left;font-size:9px;color:var(--tx3);text-transform:uppercase;letter-spacing:.8px;padding:10px 14px;border-bottom:1px solid var(--bd)}
td{padding:10px 14px;border-bottom:1px solid rgba(37,42,58,.4);font-size:12px}
.addr{color:var(--go);font-size:11px;cursor:pointer}.addr:hover{text-decoration:underline}
.pos{color:var(--gn)}.neg{color:var(--rd)}
.tier{font-weight:700;padding:2px 8px;border-radius:5px;background:var(--sf3)}
.emp{text-align:center;padding:40px;color:var(--tx3);font-size:12px}
input{width:420px;max-width:90vw;padding:10px 12px;background:var(--sf2);border:1px solid var(--bd);border-radius:8px;color:var(--tx);font-family:'JetBrains Mono',monospace;font-size:12px;outline:0;margin:14px}
</style></head><body>
<div id="root"></div>
<script src="https://cdnjs.cloudflare.com/ajax/libs/react/18.2.0/umd/react.production.min.js"></script>
<script src="https://cdnjs.cloudflare.com/ajax/libs/react-dom/18.2.0/umd/react-dom.production.min.js"></script>
<script src="https://cdnjs.cloudflare.com/ajax/libs/babel-standalone/7.23.9/babel.min.js"></script>
<script type="text/babel">
const{useState,useEffect,useCallback}=React;
const useFetch=(u,ms=15000)=>{const[d,sD]=useState(null);const ld=useCallback(()=>{if(!u)return;fetch(u).then(r=>r.ok?r.json():null).then(sD).catch(()=>{})},[u]);useEffect(()=>{ld();const i=setInterval(ld,ms);return()=>clearInterval(i)},[ld,ms]);return d};
const ab=a=>a?(a.slice(0,6)+'...'+a.slice(-4)):'-';
const pct=v=>((v||0)*100).toFixed(1)+'%';
const sol=v=><span className={v>0?'pos':v<0?'neg':''}>{(v>0?'+':'')+(v||0).toFixed(4)}</span>;
const hold=ns=>{const s=(ns||0)/1e9;if(s<=0)return'-';if(s<60)return Math.floor(s)+'s';if(s<3600)return Math.floor(s/60)+'m';if(s<86400)return Math.floor(s/3600)+'h'+(Math.floor(s/60)%60?Math.floor(s/60)%60+'m':'');return Math.floor(s/86400)+'d'};

function App(){
  const[tab,sTab]=useState('runs'),[run,sRun]=useState(null),[wallet,sWallet]=useState('');
  const stats=useFetch('/api/stats');
  const open=w=>{sWallet(w);sTab('wallet')};
  return<div className="app">
    <div className="hdr"><h1>⚔️ Combat Report</h1></div>
    <div className="sts">
      <div className="st"><div className="v">{stats?.batch_runs||0}</div><div className="l">Runs</div></div>
      <div className="st"><div className="v">{stats?.wallet_reports||0}</div><div className="l">Reports</div></div>
      <div className="st"><div className="v">{stats?.wallet_failures||0}</div><div className="l">Failures</div></div>
    </div>
    <div className="nav">
      {[['runs','🏁 Runs'],['ranking','🏆 Ranking'],['wallet','👛 Wallet'],['failures','⚠️ Failures']].map(([k,l])=>
        <button key={k} className={tab===k?'on':''} onClick={()=>sTab(k)}>{l}</button>)}
    </div>
    {tab==='runs'&&<RunsTab onPick={id=>{sRun(id);sTab('ranking')}}/>}
    {tab==='ranking'&&<RankingTab run={run} onWallet={open}/>}
    {tab==='wallet'&&<WalletTab wallet={wallet} setWallet={sWallet}/>}
    {tab==='failures'&&<FailuresTab run={run}/>}
  </div>
}

function RunsTab({onPick}){
  const runs=useFetch('/api/runs');
  if(!runs||!runs.length)return<div className="pn"><div className="emp">No runs stored yet</div></div>;
  return<div className="pn"><div className="pn-h">Runs</div><table><thead><tr><th>Run</th><th>Mode</th><th>Started</th><th>Total</th><th>Done</th><th>Failed</th><th>Rejected</th><th>Skipped</th></tr></thead>
  <tbody>{runs.map(r=><tr key={r.id}><td className="addr" onClick={()=>onPick(r.id)}>{r.id.slice(0,8)}</td><td>{r.mode}</td><td>{new Date(r.started_at).toLocaleString()}</td><td>{r.total}</td><td>{r.done}</td><td>{r.failed}</td><td>{r.rejected}</td><td>{r.skipped}</td></tr>)}</tbody></table></div>
}

function RankingTab({run,onWallet}){
  const rows=useFetch(run?'/api/runs/'+run+'/reports':null);
  if(!run)return<div className="pn"><div className="emp">Pick a run first</div></div>;
  if(!rows||!rows.length)return<div className="pn"><div className="emp">No ranked wallets in this run</div></div>;
  return<div className="pn"><div className="pn-h">Ranking {run.slice(0,8)}</div><table><thead><tr><th>#</th><th>Wallet</th><th>Tokens</th><th>Win</th><th>Profit</th><th>Hold</th><th>Stab</th><th>Degen</th><th>Diamond</th><th>Score</th><th>Tier</th><th>Conf</th></tr></thead>
  <tbody>{rows.map(({rank,report:r})=>{const p=r.profile;return<tr key={r.wallet_address}><td>{rank}</td><td className="addr" onClick={()=>onWallet(r.wallet_address)}>{ab(r.wallet_address)}</td><td>{r.token_count}</td><td>{pct(p.win_rate)}</td><td>{sol(p.total_profit)}</td><td>{hold(p.median_hold)}</td><td>{p.dimension_scores.stability.toFixed(0)}</td><td>{p.dimension_scores.degen_hunter.toFixed(0)}</td><td>{p.dimension_scores.diamond_hands.toFixed(0)}</td><td>{p.composite_rating.score.toFixed(1)}</td><td><span className="tier">{p.composite_rating.tier}</span></td><td>{p.confidence_level}</td></tr>})}</tbody></table></div>
}

function WalletTab({wallet,setWallet}){
  const[q,sQ]=useState(wallet);
  const s=useFetch(wallet?'/api/reports/'+wallet:null);
  const r=s?.report;
  return<div className="pn"><div className="pn-h">Wallet</div>
    <input placeholder="wallet address" value={q} onChange={e=>sQ(e.target.value)} onKeyDown={e=>{if(e.key==='Enter')setWallet(q.trim())}}/>
    {!r?<div className="emp">{wallet?'No stored report for this wallet':'Enter a wallet address'}</div>:
    <table><thead><tr><th>Mint</th><th>Cost</th><th>Proceeds</th><th>Profit</th><th>ROI</th><th>Exit</th><th>Hold</th><th>Quote</th></tr></thead>
    <tbody>{(r.tokens||[]).map(t=><tr key={t.mint}><td>{ab(t.mint)}</td><td>{t.cost.toFixed(4)}</td><td>{t.proceeds.toFixed(4)}</td><td>{sol(t.profit)}</td><td>{pct(t.roi)}</td><td>{pct(t.exit_pct)}</td><td>{hold(t.hold)}</td><td>{t.quote}</td></tr>)}</tbody></table>}
  </div>
}

function FailuresTab({run}){
  const rows=useFetch('/api/failures'+(run?'?run='+run:''));
  if(!rows||!rows.length)return<div className="pn"><div className="emp">No failures</div></div>;
  return<div className="pn"><div className="pn-h">Failures</div><table><thead><tr><th>Wallet</th><th>Kind</th><th>Reason</th><th>When</th></tr></thead>
  <tbody>{rows.map((f,i)=><tr key={i}><td>{ab(f.wallet)}</td><td className={f.transient?'':'neg'}>{f.transient?'transient':'fatal'}</td><td>{f.reason}</td><td>{new Date(f.created_at).toLocaleString()}</td></tr>)}</tbody></table></div>
}

ReactDOM.createRoot(document.getElementById('root')).render(<App/>);
</script></body></html>`
