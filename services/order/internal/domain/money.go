package domain

// Money — сумма в минимальных единицах валюты.
// Целые числа вместо float, чтобы не терять копейки при умножении.
type Money struct {
	Currency string // ISO 4217
	Amount   int64
}

// Multiply умножает сумму на количество.
func (m Money) Multiply(quantity int32) Money {
	return Money{Currency: m.Currency, Amount: m.Amount * int64(quantity)}
}

// Add складывает суммы. Валюта берётся из левого операнда.
func (m Money) Add(other Money) Money {
	return Money{Currency: m.Currency, Amount: m.Amount + other.Amount}
}
