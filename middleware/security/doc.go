// Package security fornece o adapter HTTP (net/http) do gateway de segurança.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: classificação, sanitização, rate limit e atraso progressivo
//   - infra: stores de contadores (memória/Redis), watchlist, alertas, métricas
//   - security (este pacote): middleware HTTP, extração do cliente e do snapshot,
//     tradução das decisões para status/headers
//
// Fluxo por requisição (linear, sem voltar atrás):
//
//  1. Extrai o cliente (header/XFF/RemoteAddr) e o snapshot bruto da requisição
//  2. Sanitiza query/body que seguem adiante (nunca bloqueia)
//  3. Classifica o snapshot bruto; achado high => 403
//  4. Rate limit do tier (general/auth/upload); excedeu => 429
//  5. Atraso progressivo (SpeedLimiter), cancelável pelo cliente
//  6. Marca headers de monitoramento se o cliente está na watchlist
//  7. Chama o próximo handler (ex: reverse proxy)
//
// Falhas de infraestrutura (store fora do ar, alerta que não sai) nunca viram
// erro para o cliente: o gateway segue em fail-open.
package security
