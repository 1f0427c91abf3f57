package server

import "github.com/valyala/fasthttp"

// handleDocs serves a minimal human-readable API reference.
func (s *Server) handleDocs(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBodyString(docsHTML)
}

// handleOpenAPI serves the machine-readable API description.
func (s *Server) handleOpenAPI(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetBodyString(openAPIJSON)
}

const docsHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Consensus API</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
code, pre { background: #f4f4f4; padding: 0.15rem 0.3rem; border-radius: 3px; }
pre { padding: 0.75rem; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; }
</style>
</head>
<body>
<h1>Consensus API</h1>
<p>Fans a question out to multiple LLM providers in parallel and collapses
their answers into a single consensus answer with an agreement score.
All endpoints except <code>GET /health</code>, <code>GET /docs</code> and
<code>GET /openapi.json</code> require <code>Authorization: Bearer &lt;token&gt;</code>.</p>

<h2>Endpoints</h2>
<table>
<tr><th>Path</th><th>Method</th><th>Purpose</th></tr>
<tr><td><code>/consensus</code></td><td>POST</td><td>Run one consensus query</td></tr>
<tr><td><code>/consensus/batch</code></td><td>POST</td><td>Run up to 50 queries</td></tr>
<tr><td><code>/models</code></td><td>GET</td><td>List configured models</td></tr>
<tr><td><code>/analytics/performance</code></td><td>GET</td><td>Aggregate query analytics</td></tr>
<tr><td><code>/feedback</code></td><td>POST</td><td>Rate a served answer (1&ndash;5)</td></tr>
<tr><td><code>/health</code></td><td>GET</td><td>Liveness and dependency state</td></tr>
<tr><td><code>/metrics</code></td><td>GET</td><td>Prometheus metrics</td></tr>
</table>

<h2>Example</h2>
<pre>curl -s -X POST http://localhost:8080/consensus \
  -H "Authorization: Bearer $TOKEN" \
  -H "Content-Type: application/json" \
  -d '{"question": "Is P equal to NP?", "method": "expert_roles"}'</pre>

<p>The full schema is available at <a href="/openapi.json">/openapi.json</a>.</p>
</body>
</html>
`

const openAPIJSON = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Consensus API",
    "description": "Multi-provider LLM consensus engine.",
    "version": "1.0.0"
  },
  "components": {
    "securitySchemes": {
      "bearerAuth": {"type": "http", "scheme": "bearer"}
    },
    "schemas": {
      "ConsensusRequest": {
        "type": "object",
        "required": ["question"],
        "additionalProperties": false,
        "properties": {
          "question": {"type": "string", "minLength": 1, "maxLength": 5000},
          "method": {"type": "string", "enum": ["expert_roles", "direct_consensus", "debate", "chain"], "default": "expert_roles"},
          "models": {"type": "array", "items": {"type": "string"}},
          "max_models": {"type": "integer", "minimum": 2, "maximum": 10, "default": 5},
          "temperature": {"type": "number", "minimum": 0, "maximum": 2, "default": 0.7},
          "weights": {"type": "array", "items": {"type": "number", "exclusiveMinimum": 0}},
          "enable_caching": {"type": "boolean", "default": true},
          "enable_chain_of_thought": {"type": "boolean", "default": false},
          "reasoning_method": {"type": "string", "enum": ["chain_of_thought", "socratic_method", "multi_perspective"], "default": "chain_of_thought"},
          "chain_depth": {"type": "integer", "minimum": 0, "maximum": 5, "default": 2},
          "roles": {"type": "array", "items": {"type": "string"}}
        }
      },
      "ConsensusResult": {
        "type": "object",
        "properties": {
          "consensus_id": {"type": "string", "format": "uuid"},
          "consensus_text": {"type": "string"},
          "consensus_score": {"type": "number", "minimum": 0, "maximum": 1},
          "method_used": {"type": "string"},
          "models_used": {"type": "array", "items": {"type": "string"}},
          "per_model": {"type": "array", "items": {"type": "object"}},
          "partial": {"type": "boolean"},
          "cache_hit": {"type": "boolean"},
          "total_latency_ms": {"type": "integer"},
          "chain_trace": {"type": "array", "items": {"type": "object"}},
          "quality_metrics": {"type": "object"}
        }
      },
      "Error": {
        "type": "object",
        "properties": {
          "error_code": {"type": "string"},
          "message": {"type": "string"},
          "details": {"type": "object"},
          "timestamp": {"type": "string", "format": "date-time"}
        }
      }
    }
  },
  "security": [{"bearerAuth": []}],
  "paths": {
    "/consensus": {
      "post": {
        "summary": "Run one consensus query",
        "requestBody": {"required": true, "content": {"application/json": {"schema": {"$ref": "#/components/schemas/ConsensusRequest"}}}},
        "responses": {
          "200": {"description": "Consensus result", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/ConsensusResult"}}}},
          "400": {"description": "Validation failure", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Error"}}}},
          "401": {"description": "Missing or malformed token"},
          "403": {"description": "Unknown token"},
          "408": {"description": "Request deadline exceeded"},
          "422": {"description": "Consensus failed"},
          "429": {"description": "Rate limited"},
          "503": {"description": "Overloaded"}
        }
      }
    },
    "/consensus/batch": {
      "post": {
        "summary": "Run up to 50 consensus queries",
        "requestBody": {"required": true, "content": {"application/json": {"schema": {"type": "object", "required": ["queries"], "properties": {"queries": {"type": "array", "maxItems": 50, "items": {"$ref": "#/components/schemas/ConsensusRequest"}}}}}}},
        "responses": {"200": {"description": "Per-entry results plus a summary"}}
      }
    },
    "/models": {
      "get": {"summary": "List configured models", "responses": {"200": {"description": "Descriptor list"}}}
    },
    "/analytics/performance": {
      "get": {
        "summary": "Aggregate query analytics",
        "parameters": [
          {"name": "timeframe", "in": "query", "schema": {"type": "string", "enum": ["1h", "24h", "7d", "30d"], "default": "24h"}},
          {"name": "metric_type", "in": "query", "schema": {"type": "string", "enum": ["summary", "models", "trend"], "default": "summary"}}
        ],
        "responses": {"200": {"description": "Aggregates for the window"}}
      }
    },
    "/feedback": {
      "post": {
        "summary": "Rate a served consensus answer",
        "requestBody": {"required": true, "content": {"application/json": {"schema": {"type": "object", "required": ["consensus_id", "rating"], "properties": {"consensus_id": {"type": "string"}, "rating": {"type": "integer", "minimum": 1, "maximum": 5}, "comment": {"type": "string", "maxLength": 2000}}}}}},
        "responses": {"200": {"description": "Recorded"}}
      }
    },
    "/health": {
      "get": {"summary": "Liveness and dependency state", "security": [], "responses": {"200": {"description": "Health snapshot"}}}
    }
  }
}
`
