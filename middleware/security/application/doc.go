// Package application contém os casos de uso (regras de aplicação) do gateway:
// classificação de ameaças, sanitização, rate limit por tier e atraso progressivo.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: RateLimiter.Check(ctx, key) retorna uma Decision (allow/deny + reset).
package application
