// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCounterStore / RedisCounterStore: contadores de janela fixa
//   - SuspiciousRegistry: watchlist local com expiração preguiçosa
//   - AlertDispatcher: fila assíncrona de alertas (log, SQL)
//   - Throttle: token bucket por cliente usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limite de concorrência
package infra
