package domain

// Product — товар каталога. Stock — доступное для продажи количество, не бывает отрицательным.
type Product struct {
	ID    string
	Name  string
	Price Money
	Stock int32
}

// CartItem — позиция корзины пользователя.
type CartItem struct {
	ProductID string
	Variant   string
	Quantity  int32
}
