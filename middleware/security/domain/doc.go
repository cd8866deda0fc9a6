// Package domain define contratos e tipos de domínio do gateway de segurança:
// achados de ameaça, janelas de contagem, decisões de limite e alertas.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (Redis, SQL, Prometheus).
package domain
