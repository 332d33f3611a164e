package telegramadapter

import (
	"fmt"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const helpText = `📊 **Ajuda - Frepi Financeiro**

**Comandos:**
/start - Iniciar conversa
/help - Ver esta ajuda
/limpar - Limpar histórico

**Como usar:**
• Envie fotos de notas fiscais para processar
• Digite 1-4 para acessar funções do menu
• Pergunte sobre CMV, custos ou fechamento mensal

**Dicas:**
• Envie várias NFs e depois digite "pronto"
• Peça análise de tendência de preços
• Configure alertas para produtos importantes`

const welcomeReturning = `📊 Olá%s! Bem-vindo ao **Frepi Financeiro**!

Sou seu assistente de inteligência financeira. Posso ajudar com:

1️⃣ **Enviar nota fiscal (NF)** - processar e analisar
2️⃣ **Fechamento mensal** - relatório financeiro
3️⃣ **Análise de CMV / cardápio** - custo dos pratos
4️⃣ **Lista de acompanhamento de preços** - monitorar variações

Como posso ajudar? 🎯`

const welcomeProcurementUser = `📊 Olá! Bem-vindo ao **Frepi Financeiro**!

Vejo que você já usa o Frepi para compras. Vamos configurar o módulo financeiro.

Vou precisar de algumas informações rápidas para personalizar sua experiência.`

const welcomeNewUser = `📊 Olá! Bem-vindo ao **Frepi Financeiro**!

Sou seu assistente de inteligência financeira para restaurantes.
Vou te ajudar a organizar e controlar as finanças do seu restaurante.

Vamos começar com um cadastro rápido!`

func welcomeText(id domain.Identification) string {
	switch {
	case id.OnboardingComplete:
		name := ""
		if id.PersonName != "" {
			name = ", " + id.PersonName
		}
		return fmt.Sprintf(welcomeReturning, name)
	case id.Known:
		return welcomeProcurementUser
	default:
		return welcomeNewUser
	}
}
